package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/wppagent/internal/conn"
)

// deliverer sends scheduled messages through the connection manager.
type deliverer struct {
	m *conn.Manager
}

func (d deliverer) Deliver(ctx context.Context, chatJID, content, mediaPath string) (string, error) {
	if mediaPath != "" {
		res, err := d.m.SendMedia(ctx, chatJID, conn.MediaUpload{
			Path:     mediaPath,
			Caption:  content,
			Filename: filepath.Base(mediaPath),
		})
		return res.MsgID, err
	}
	res, err := d.m.SendText(ctx, chatJID, content, "")
	return res.MsgID, err
}
