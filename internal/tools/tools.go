// Package tools exposes the daemon to agents as MCP tools over stdio.
package tools

import (
	"context"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/config"
	"github.com/matheus3301/wppagent/internal/conn"
	"github.com/matheus3301/wppagent/internal/scheduler"
	"github.com/matheus3301/wppagent/internal/status"
	"github.com/matheus3301/wppagent/internal/store"
	"github.com/matheus3301/wppagent/internal/vectors"
)

// Messenger is the part of the connection manager the tools drive.
type Messenger interface {
	State() status.State
	StateSince() time.Time
	IsLoggedIn() bool
	Attempts() int
	Failed() bool
	LastQR() string

	SendText(ctx context.Context, chat, text, replyTo string) (conn.SendResult, error)
	SendMedia(ctx context.Context, chat string, u conn.MediaUpload) (conn.MediaSendResult, error)
	React(ctx context.Context, chat, sender, msgID, emoji string) error
	Edit(ctx context.Context, chat, msgID, content string) error
	DeleteMessage(ctx context.Context, ref conn.MessageRef, forEveryone bool) (conn.DeleteResult, error)
	Star(ctx context.Context, chat, sender, msgID string, fromMe, starred bool) error
	Archive(ctx context.Context, chat string, archived bool) error
	MarkRead(ctx context.Context, chat, sender string, msgIDs []string) error
}

// Deps are the collaborators of the tool handlers. Indexer may be nil.
type Deps struct {
	Conn      Messenger
	DB        *store.DB
	Indexer   *vectors.Indexer
	Scheduler *scheduler.Scheduler
	Config    *config.Config
	Logger    *zap.Logger
}

// Tools holds the handlers. Each handler is a thin translation between tool
// arguments and one daemon operation.
type Tools struct {
	Deps
}

func New(deps Deps) *Tools {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	deps.Logger = deps.Logger.Named("tools")
	return &Tools{Deps: deps}
}

type tool struct {
	def     mcp.Tool
	handler server.ToolHandlerFunc
}

// NewServer creates an MCP server with every tool registered.
func NewServer(t *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer("wppagent", version)
	for _, tl := range t.all() {
		s.AddTool(tl.def, t.wrap(tl.def.Name, tl.handler))
	}
	return s
}

// Serve speaks MCP on in/out until ctx is done or in is closed.
func Serve(ctx context.Context, s *server.MCPServer, in io.Reader, out io.Writer, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	stdio := server.NewStdioServer(s)
	stdio.SetErrorLogger(zap.NewStdLog(logger.Named("mcp")))
	return stdio.Listen(ctx, in, out)
}

func (t *Tools) wrap(name string, h server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		res, err := h(ctx, req)
		fields := []zap.Field{zap.String("tool", name), zap.Duration("took", time.Since(start))}
		switch {
		case err != nil:
			t.Logger.Warn("tool failed", append(fields, zap.Error(err))...)
			return mcp.NewToolResultError(err.Error()), nil
		case res != nil && res.IsError:
			t.Logger.Info("tool returned error", fields...)
		default:
			t.Logger.Debug("tool call", fields...)
		}
		return res, nil
	}
}

