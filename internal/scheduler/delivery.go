package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/metrics"
	"github.com/matheus3301/wppagent/internal/store"
)

// Deliverer sends one message and returns its protocol id.
type Deliverer interface {
	Deliver(ctx context.Context, chatJID, content, mediaPath string) (string, error)
}

// Delivery claims a due message, sends it once and records the outcome.
// Failed deliveries are not retried.
type Delivery struct {
	db        *store.DB
	deliverer Deliverer
	bus       *bus.Bus
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

var _ DueHandler = (*Delivery)(nil)

func NewDelivery(db *store.DB, d Deliverer, b *bus.Bus, mx *metrics.Metrics, logger *zap.Logger) *Delivery {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Delivery{db: db, deliverer: d, bus: b, metrics: mx, logger: logger.Named("delivery")}
}

func (d *Delivery) HandleDue(ctx context.Context, m store.ScheduledMessage) {
	log := d.logger.With(zap.String("id", m.ID), zap.String("chat_jid", m.ChatJID))

	claimed, err := d.db.ClaimScheduled(m.ID)
	if err != nil {
		log.Error("claim failed", zap.Error(err))
		return
	}
	if !claimed {
		log.Debug("already claimed or no longer pending")
		return
	}

	msgID, err := d.deliverer.Deliver(ctx, m.ChatJID, m.Content, m.MediaPath)
	if err != nil {
		if _, merr := d.db.MarkScheduledFailed(m.ID, err.Error()); merr != nil {
			log.Error("record failure failed", zap.Error(merr))
		}
		d.metrics.Delivery("failed")
		log.Warn("scheduled delivery failed", zap.Error(err))
		d.publish(bus.KindSchedulerFailed, map[string]string{"id": m.ID, "chat_jid": m.ChatJID, "error": err.Error()})
		return
	}

	if _, err := d.db.MarkScheduledSent(m.ID, msgID); err != nil {
		log.Error("record delivery failed", zap.Error(err))
	}
	d.metrics.Delivery("sent")
	log.Info("scheduled message sent", zap.String("msg_id", msgID))
	d.publish(bus.KindSchedulerSent, map[string]string{"id": m.ID, "chat_jid": m.ChatJID, "msg_id": msgID})
}

func (d *Delivery) publish(kind string, payload map[string]string) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: payload})
}
