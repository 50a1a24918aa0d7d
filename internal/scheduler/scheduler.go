// Package scheduler delivers messages at a requested time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/store"
)

var (
	ErrEmptyMessage = errors.New("scheduled message needs content or media")
	ErrNoChat       = errors.New("scheduled message needs a chat")
)

// DueHandler is called once per due message, sequentially.
type DueHandler interface {
	HandleDue(ctx context.Context, m store.ScheduledMessage)
}

// Scheduler persists scheduled messages and polls for due ones.
type Scheduler struct {
	db       *store.DB
	bus      *bus.Bus
	handler  DueHandler
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler that polls every interval.
func New(db *store.DB, b *bus.Bus, handler DueHandler, interval time.Duration, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		db:       db,
		bus:      b,
		handler:  handler,
		interval: interval,
		logger:   logger.Named("scheduler"),
	}
}

// Schedule stores a pending message for delivery at at. A time in the past
// is delivered on the next poll.
func (s *Scheduler) Schedule(chatJID, content, mediaPath string, at time.Time) (*store.ScheduledMessage, error) {
	chatJID = strings.TrimSpace(chatJID)
	if chatJID == "" {
		return nil, ErrNoChat
	}
	if strings.TrimSpace(content) == "" && mediaPath == "" {
		return nil, ErrEmptyMessage
	}
	m := &store.ScheduledMessage{
		ID:          ulid.Make().String(),
		ChatJID:     chatJID,
		Content:     content,
		MediaPath:   mediaPath,
		ScheduledAt: at.UnixMilli(),
	}
	if err := s.db.CreateScheduled(m); err != nil {
		return nil, err
	}
	s.logger.Info("message scheduled", zap.String("id", m.ID), zap.String("chat_jid", chatJID), zap.Time("at", at))
	return m, nil
}

// Cancel cancels a pending message. It reports false when the message is
// unknown, already claimed for delivery or no longer pending.
func (s *Scheduler) Cancel(id string) (bool, error) {
	ok, err := s.db.CancelScheduled(id)
	if err != nil {
		return false, fmt.Errorf("cancel %s: %w", id, err)
	}
	if ok {
		s.logger.Info("scheduled message cancelled", zap.String("id", id))
	}
	return ok, nil
}

func (s *Scheduler) Get(id string) (*store.ScheduledMessage, error) {
	return s.db.GetScheduled(id)
}

// List returns scheduled messages by send time; an empty status lists all.
func (s *Scheduler) List(status store.ScheduledStatus, limit, offset int) ([]store.ScheduledMessage, error) {
	return s.db.ListScheduled(status, limit, offset)
}

// Poll hands every message due at now to the handler and returns how many
// were handed off. A cancelled ctx stops the loop early with the count so far.
func (s *Scheduler) Poll(ctx context.Context, now time.Time) (int, error) {
	due, err := s.db.DueScheduled(now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("read due messages: %w", err)
	}
	for i, m := range due {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if s.bus != nil {
			s.bus.Publish(bus.Event{
				Kind:      bus.KindSchedulerDue,
				Timestamp: time.Now(),
				Payload:   map[string]string{"id": m.ID, "chat_jid": m.ChatJID},
			})
		}
		if s.handler != nil {
			s.handler.HandleDue(ctx, m)
		}
	}
	return len(due), nil
}

// Start fails deliveries interrupted by a previous crash, then polls right
// away and on every tick until Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}
	n, err := s.db.FailInterruptedScheduled()
	if err != nil {
		return fmt.Errorf("recover interrupted deliveries: %w", err)
	}
	if n > 0 {
		s.logger.Warn("marked interrupted deliveries as failed", zap.Int64("count", n))
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	return nil
}

// Stop stops the loop and waits for an in-flight poll to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ticker.C:
			s.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	if _, err := s.Poll(ctx, time.Now()); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduler poll failed", zap.Error(err))
	}
}
