package bus

import "time"

// Notification kinds. Subscribers match on prefixes such as "conn." or "message.".
const (
	KindConnStateChanged = "conn.state_changed"
	KindConnQR           = "conn.qr"
	KindConnReconnecting = "conn.reconnecting"
	KindConnFailed       = "conn.failed"
	KindConnLoggedOut    = "conn.logged_out"

	KindMessageUpserted = "message.upserted"
	KindMessageHistory  = "message.history"
	KindMessageUpdated  = "message.updated"
	KindMessageReaction = "message.reaction"
	KindChatUpdated     = "chat.updated"

	KindSchedulerDue    = "scheduler.due"
	KindSchedulerSent   = "scheduler.sent"
	KindSchedulerFailed = "scheduler.failed"
)

// Event is a best-effort notification. Subscribers that fall behind miss events.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
