package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/lifecycle"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/request"
)

const postgresChannel = "input_request_changes"

const postgresSchema = `
CREATE TABLE IF NOT EXISTS input_requests (
	id          TEXT PRIMARY KEY,
	doc         JSONB NOT NULL,
	status      TEXT NOT NULL,
	created_at  BIGINT NOT NULL,
	response    TEXT,
	answered_at BIGINT,
	answered_by TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_input_requests_status ON input_requests (status, created_at DESC);
`

const selectColumns = `doc, status, response, answered_at, answered_by`

// PostgresStore keeps the document in PostgreSQL. The status precondition
// is the WHERE clause of a single UPDATE; changes travel over
// LISTEN/NOTIFY.
type PostgresStore struct {
	Hub

	pool   *pgxpool.Pool
	logger *logger.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPostgresStore connects, creates the table if needed and starts
// listening for changes.
func NewPostgresStore(ctx context.Context, url string, log *logger.Logger) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.ConnConfig.ConnectTimeout = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to acquire listener: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+postgresChannel); err != nil {
		conn.Release()
		pool.Close()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	listenCtx, cancel := context.WithCancel(context.Background())
	s := &PostgresStore{
		pool:   pool,
		logger: log.WithFields(zap.String("component", "postgres-store")),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go s.listen(listenCtx, conn)
	return s, nil
}

func (s *PostgresStore) listen(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)
	defer conn.Release()
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Error("change listener stopped", zap.Error(err))
			}
			return
		}
		var rc changeMessage
		if err := json.Unmarshal([]byte(n.Payload), &rc); err != nil {
			s.logger.Warn("dropping malformed change", zap.Error(err))
			continue
		}
		getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		r, err := s.Get(getCtx, rc.ID)
		cancel()
		if err != nil {
			s.logger.Warn("failed to load changed request", zap.String("request_id", rc.ID), zap.Error(err))
			continue
		}
		s.Notify(Change{Kind: rc.Kind, Request: r, At: time.Now()})
	}
}

func scanRequest(row pgx.Row) (*request.InputRequest, error) {
	var (
		doc        []byte
		status     string
		response   *string
		answeredAt *int64
		answeredBy string
	)
	if err := row.Scan(&doc, &status, &response, &answeredAt, &answeredBy); err != nil {
		return nil, err
	}
	var r request.InputRequest
	if err := json.Unmarshal(doc, &r); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	r.Status = lifecycle.Status(status)
	r.Response = response
	r.AnsweredAt = answeredAt
	r.AnsweredBy = answeredBy
	return &r, nil
}

func notify(ctx context.Context, tx pgx.Tx, kind ChangeKind, id string) error {
	payload, _ := json.Marshal(changeMessage{Kind: kind, ID: id})
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, postgresChannel, string(payload))
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*request.InputRequest, error) {
	r, err := scanRequest(s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM input_requests WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load request %s: %w", id, err)
	}
	return r, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r *request.InputRequest) error {
	doc, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO input_requests (id, doc, status, created_at, response, answered_at, answered_by)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (id) DO NOTHING`,
			r.ID, doc, string(r.Status), r.CreatedAt, r.Response, r.AnsweredAt, r.AnsweredBy)
		if err != nil {
			return fmt.Errorf("insert request %s: %w", r.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return ErrExists
		}
		return notify(ctx, tx, ChangeInserted, r.ID)
	})
}

func (s *PostgresStore) CompareAndTransition(ctx context.Context, id string, from lifecycle.Status, t Transition) (*request.InputRequest, error) {
	var updated *request.InputRequest
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := scanRequest(tx.QueryRow(ctx,
			`UPDATE input_requests
			 SET status = $3, response = $4, answered_at = $5, answered_by = $6
			 WHERE id = $1 AND status = $2
			 RETURNING `+selectColumns,
			id, string(from), string(t.To), t.Response, t.AnsweredAt, t.AnsweredBy))
		if err != nil {
			return err
		}
		updated = r
		return notify(ctx, tx, ChangeTransitioned, id)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		// Nothing matched: the record is gone or its status moved on.
		current, gerr := s.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		return current, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("transition request %s: %w", id, err)
	}
	return updated, nil
}

func (s *PostgresStore) List(ctx context.Context, status lifecycle.Status) ([]*request.InputRequest, error) {
	query := `SELECT ` + selectColumns + ` FROM input_requests`
	var args []any
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	out := []*request.InputRequest{}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping verifies the database connection is still alive.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close stops the listener and closes the pool.
func (s *PostgresStore) Close() error {
	s.cancel()
	<-s.done
	s.pool.Close()
	return nil
}
