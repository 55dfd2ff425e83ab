package db

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tejzpr/rishvan-input/internal/inputtype"
	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/request"
)

// Request is one input request row. The question is stored as JSON; the
// lifecycle fields are columns so the conditional update can match on
// status.
type Request struct {
	ID         string  `gorm:"primaryKey"`
	SourceName string  `gorm:"column:source_name;index;not null;default:''"`
	AppName    string  `gorm:"index;not null;default:''"`
	Type       string  `gorm:"not null"`
	Question   string  `gorm:"type:text;not null"`
	Status     string  `gorm:"default:pending;not null;index"`
	CreatedAt  int64   `gorm:"autoCreateTime:false;index;not null"`
	Timeout    *int    `gorm:"column:timeout"`
	IsBlocker  bool    `gorm:"not null;default:false"`
	Response   *string `gorm:"type:text"`
	AnsweredAt *int64
	AnsweredBy string `gorm:"not null;default:''"`
	UpdatedAt  time.Time
}

func toRow(r *request.InputRequest) (*Request, error) {
	q, err := json.Marshal(r.Question)
	if err != nil {
		return nil, fmt.Errorf("encode question: %w", err)
	}
	return &Request{
		ID:         r.ID,
		SourceName: r.SourceName,
		AppName:    r.AppName,
		Type:       string(r.Type),
		Question:   string(q),
		Status:     string(r.Status),
		CreatedAt:  r.CreatedAt,
		Timeout:    r.Timeout,
		IsBlocker:  r.IsBlocker,
		Response:   r.Response,
		AnsweredAt: r.AnsweredAt,
		AnsweredBy: r.AnsweredBy,
	}, nil
}

func (row *Request) toInputRequest() (*request.InputRequest, error) {
	var q request.Question
	if err := json.Unmarshal([]byte(row.Question), &q); err != nil {
		return nil, fmt.Errorf("decode question for %s: %w", row.ID, err)
	}
	q.Type = inputtype.Type(row.Type)
	return &request.InputRequest{
		ID:         row.ID,
		Question:   q,
		Status:     lifecycle.Status(row.Status),
		CreatedAt:  row.CreatedAt,
		Timeout:    row.Timeout,
		IsBlocker:  row.IsBlocker,
		SourceName: row.SourceName,
		AppName:    row.AppName,
		Response:   row.Response,
		AnsweredAt: row.AnsweredAt,
		AnsweredBy: row.AnsweredBy,
	}, nil
}
