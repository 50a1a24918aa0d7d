package wa

import (
	"time"

	"github.com/matheus3301/wppagent/internal/events"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
)

// jidFunc normalizes a JID for storage.
type jidFunc func(types.JID) string

func plainJID(j types.JID) string {
	if j.IsEmpty() {
		return ""
	}
	return j.ToNonAD().String()
}

// parseMessage normalizes one message. Depending on the payload it yields
// a *events.Message, a *events.Reaction, a *events.MessageUpdate for edits
// and revokes, or nil for protocol noise that carries nothing to store.
func parseMessage(msg *waE2E.Message, info types.MessageInfo, jid jidFunc) events.Event {
	if msg == nil {
		return nil
	}
	chat := jid(info.Chat)
	sender := jid(info.Sender)

	if r := msg.GetReactionMessage(); r != nil {
		ts := info.Timestamp
		if ms := r.GetSenderTimestampMS(); ms > 0 {
			ts = time.UnixMilli(ms)
		}
		return &events.Reaction{
			ChatJID:   chat,
			MsgID:     r.GetKey().GetID(),
			Reactor:   sender,
			Emoji:     r.GetText(),
			Timestamp: ts,
		}
	}

	if pm := msg.GetProtocolMessage(); pm != nil {
		switch pm.GetType() {
		case waE2E.ProtocolMessage_REVOKE:
			return &events.MessageUpdate{
				Type:    events.UpdateDeleted,
				ChatJID: chat,
				MsgID:   pm.GetKey().GetID(),
			}
		case waE2E.ProtocolMessage_MESSAGE_EDIT:
			return &events.MessageUpdate{
				Type:    events.UpdateEdited,
				ChatJID: chat,
				MsgID:   pm.GetKey().GetID(),
				Content: extractTextBody(pm.GetEditedMessage()),
			}
		}
		return nil
	}

	msgType := detectMessageType(msg)
	if msgType == "unknown" && extractTextBody(msg) == "" {
		return nil
	}
	m := &events.Message{
		ChatJID:     chat,
		MsgID:       info.ID,
		SenderJID:   sender,
		SenderName:  info.PushName,
		Content:     extractTextBody(msg),
		MessageType: msgType,
		Timestamp:   info.Timestamp,
		FromMe:      info.IsFromMe,
		Media:       extractMedia(msg),
	}
	if ci := contextInfo(msg); ci != nil {
		m.ReplyToID = ci.GetStanzaID()
		m.Forwarded = ci.GetIsForwarded()
	}
	return m
}

// extractTextBody returns the text of a message, or the caption of media.
func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}

func extractMedia(msg *waE2E.Message) *events.Media {
	switch {
	case msg.GetImageMessage() != nil:
		im := msg.GetImageMessage()
		return &events.Media{Type: "image", Mime: im.GetMimetype(), Size: int64(im.GetFileLength())}
	case msg.GetVideoMessage() != nil:
		vm := msg.GetVideoMessage()
		return &events.Media{Type: "video", Mime: vm.GetMimetype(), Size: int64(vm.GetFileLength())}
	case msg.GetAudioMessage() != nil:
		am := msg.GetAudioMessage()
		return &events.Media{Type: "audio", Mime: am.GetMimetype(), Size: int64(am.GetFileLength())}
	case msg.GetDocumentMessage() != nil:
		dm := msg.GetDocumentMessage()
		return &events.Media{Type: "document", Mime: dm.GetMimetype(), Filename: dm.GetFileName(), Size: int64(dm.GetFileLength())}
	case msg.GetStickerMessage() != nil:
		sm := msg.GetStickerMessage()
		return &events.Media{Type: "sticker", Mime: sm.GetMimetype(), Size: int64(sm.GetFileLength())}
	}
	return nil
}

func contextInfo(msg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetContextInfo()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetContextInfo()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetContextInfo()
	case msg.GetAudioMessage() != nil:
		return msg.GetAudioMessage().GetContextInfo()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetContextInfo()
	case msg.GetStickerMessage() != nil:
		return msg.GetStickerMessage().GetContextInfo()
	}
	return nil
}
