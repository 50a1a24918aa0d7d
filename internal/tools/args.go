package tools

import (
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

func argString(req mcp.CallToolRequest, key string) string {
	s, _ := req.Params.Arguments[key].(string)
	return strings.TrimSpace(s)
}

func requireString(req mcp.CallToolRequest, key string) (string, error) {
	s := argString(req, key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func argInt(req mcp.CallToolRequest, key string, def int) int {
	switch v := req.Params.Arguments[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func argBool(req mcp.CallToolRequest, key string, def bool) bool {
	if b, ok := req.Params.Arguments[key].(bool); ok {
		return b
	}
	return def
}

// argTime parses an RFC3339 argument. Absent means zero time.
func argTime(req mcp.CallToolRequest, key string) (time.Time, error) {
	s := argString(req, key)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return t, nil
}

// page returns the clamped limit and the offset for a zero-based page.
func (t *Tools) page(req mcp.CallToolRequest) (int, int) {
	limit := t.Config.ClampLimit(argInt(req, "limit", 0))
	p := max(argInt(req, "page", 0), 0)
	return limit, p * limit
}

// normalizeJID accepts a JID or a phone number with optional "+".
func normalizeJID(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || strings.Contains(s, "@") {
		return s
	}
	return strings.TrimPrefix(s, "+") + "@s.whatsapp.net"
}

func chatArg(req mcp.CallToolRequest, key string) (string, error) {
	s, err := requireString(req, key)
	if err != nil {
		return "", err
	}
	return normalizeJID(s), nil
}
