package wa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/matheus3301/wppagent/internal/events"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const downloadTimeout = 2 * time.Minute

// mediaKind maps a mime type to the stored media type and the upload class.
func mediaKind(mime string) (string, whatsmeow.MediaType) {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "image", whatsmeow.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return "video", whatsmeow.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return "audio", whatsmeow.MediaAudio
	default:
		return "document", whatsmeow.MediaDocument
	}
}

func buildMediaMessage(kind, mime, filename, caption string, up whatsmeow.UploadResponse) *waE2E.Message {
	switch kind {
	case "image":
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case "video":
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	case "audio":
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			Mimetype:      proto.String(mime),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mime),
			FileName:      proto.String(filename),
			Title:         proto.String(filename),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}
	}
}

// downloadable returns the attachment of msg that can be fetched, if any.
func downloadable(msg *waE2E.Message) whatsmeow.DownloadableMessage {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage()
	}
	return nil
}

// mediaPath places an attachment under dir/<chat user>/<msg id><ext>.
func mediaPath(dir, chatJID, msgID, mime string) string {
	ext := ""
	if m := mimetype.Lookup(mime); m != nil {
		ext = m.Extension()
	}
	user, _, _ := strings.Cut(chatJID, "@")
	return filepath.Join(dir, user, msgID+ext)
}

// download fetches an attachment off the dispatch path and reports the
// local file as a media update. Failures are logged only.
func (a *Adapter) download(d whatsmeow.DownloadableMessage, m *events.Message) {
	log := a.logger.With(zap.String("chat_jid", m.ChatJID), zap.String("msg_id", m.MsgID))
	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()

	data, err := a.client.Download(ctx, d)
	if err != nil {
		log.Warn("media download failed", zap.Error(err))
		return
	}
	path := mediaPath(a.opts.MediaDir, m.ChatJID, m.MsgID, m.Media.Mime)
	if err := writeMedia(path, data); err != nil {
		log.Warn("media write failed", zap.Error(err))
		return
	}
	a.emit(&events.MessageUpdate{
		Type:      events.UpdateMediaDownloaded,
		ChatJID:   m.ChatJID,
		MsgID:     m.MsgID,
		MediaPath: path,
	})
}

func writeMedia(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
