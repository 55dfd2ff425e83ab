package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tejzpr/rishvan-input/internal/commit"
	"github.com/tejzpr/rishvan-input/internal/document"
	"github.com/tejzpr/rishvan-input/internal/logger"
	"github.com/tejzpr/rishvan-input/internal/manager"
)

const (
	DefaultPort = 56234
	healthMagic = "rishvan-input-ok"
)

// Config is where the server listens. Identity is stamped as answeredBy
// when a viewer submits without naming itself.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Identity string `mapstructure:"-"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL is the URL other processes on this machine use to reach us.
func (c Config) BaseURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// Waker is woken when a viewer regains visibility.
type Waker interface {
	Wake()
}

// Server is the presentation-layer API: it lists requests, streams
// changes and accepts answers, all through the commit path.
type Server struct {
	cfg       Config
	manager   *manager.RequestManager
	committer *commit.Committer
	store     document.Store
	broker    *manager.Broker
	waker     Waker
	logger    *logger.Logger
	router    *gin.Engine
}

// New builds the server and its routes. waker may be nil.
func New(cfg Config, m *manager.RequestManager, broker *manager.Broker, waker Waker, log *logger.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		manager:   m,
		committer: m.Committer(),
		store:     m.Committer().Store(),
		broker:    broker,
		waker:     waker,
		logger:    log.WithFields(zap.String("component", "webserver")),
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.logger), cors())
	s.registerRoutes(router)
	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", s.httpHealth)
	api.GET("/ide", s.httpSource)
	api.GET("/requests", s.httpListRequests)
	api.POST("/requests", s.httpCreateRequest)
	api.GET("/requests/:id", s.httpGetRequest)
	api.GET("/requests/:id/poll", s.httpPollRequest)
	api.POST("/requests/:id/validate", s.httpValidate)
	api.POST("/requests/:id/answer", s.httpAnswer)
	api.POST("/requests/:id/decline", s.httpDecline)
	api.POST("/requests/:id/cancel", s.httpCancel)
	api.POST("/visibility", s.httpVisibility)
	api.GET("/events", s.httpEvents)
	api.GET("/ws", s.httpWebsocket)
	api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
}

// Listen binds the configured port. If another rishvan-input server
// already holds it, Listen returns a nil listener and no error: this
// process is then a secondary and talks to that server remotely.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err == nil {
		return ln, nil
	}
	if IsRunning(s.cfg.BaseURL()) {
		return nil, nil
	}
	return nil, fmt.Errorf("port %d in use by unknown process: %w", s.cfg.Port, err)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("web server listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// IsRunning reports whether a rishvan-input server answers at baseURL.
func IsRunning(baseURL string) bool {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/api/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return body.Status == healthMagic
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		c.Next()
	}
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if c.Writer.Status() >= 500 {
			log.Error("http", fields...)
		} else {
			log.Debug("http", fields...)
		}
	}
}

func (s *Server) httpHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": healthMagic})
}

func (s *Server) httpSource(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"source_name": s.manager.SourceName()})
}

func (s *Server) httpVisibility(c *gin.Context) {
	if s.waker != nil {
		s.waker.Wake()
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) httpEvents(c *gin.Context) {
	ch := s.broker.Subscribe()
	defer s.broker.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	_, _ = fmt.Fprint(c.Writer, ": keepalive\n\n")
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(c.Writer, "event: change\ndata: %s\n\n", msg)
			c.Writer.Flush()
		}
	}
}
