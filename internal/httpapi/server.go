// Package httpapi serves the local status surface: health, connection
// status, the pairing QR code and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Status is the JSON body of GET /status.
type Status struct {
	Session     string `json:"session"`
	State       string `json:"state"`
	StateSince  string `json:"state_since"`
	LoggedIn    bool   `json:"logged_in"`
	Attempts    int    `json:"reconnect_attempts"`
	Failed      bool   `json:"failed"`
	Pairing     bool   `json:"pairing"`
	Chats       int64  `json:"chats"`
	Messages    int64  `json:"messages"`
	Contacts    int64  `json:"contacts"`
	VectorIndex struct {
		Ready   bool   `json:"ready"`
		Model   string `json:"model,omitempty"`
		Vectors int64  `json:"vectors"`
	} `json:"vector_index"`
	History struct {
		Batches     int64  `json:"batches"`
		Messages    int64  `json:"messages"`
		Progress    int    `json:"progress"`
		LastBatchAt string `json:"last_batch_at,omitempty"`
	} `json:"history"`
}

// StatusProvider supplies the daemon state shown by the server.
type StatusProvider interface {
	Status(ctx context.Context) (Status, error)
	// LastQR returns the current pairing code, "" when not pairing.
	LastQR() string
}

// Deps are the collaborators of the router.
type Deps struct {
	Status  StatusProvider
	Metrics http.Handler
	Logger  *zap.Logger
}

// Response represents a generic error response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Server is the local HTTP listener.
type Server struct {
	addr   string
	server *http.Server
	logger *zap.Logger
}

// NewServer creates a server on addr. idle bounds keep-alive connections.
func NewServer(addr string, idle time.Duration, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Server{
		addr:   addr,
		logger: deps.Logger.Named("http"),
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(deps),
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       idle,
		},
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.logger.Info("http listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
