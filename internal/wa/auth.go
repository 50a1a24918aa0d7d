package wa

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppagent/internal/conn"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

// startPairing opens the QR channel. Must be called before Connect. The
// channel lives until pairing ends or Disconnect is called, independent of
// the Connect caller's context.
func (a *Adapter) startPairing() error {
	a.stopPairing()
	ctx, cancel := context.WithCancel(context.Background())
	qrChan, err := a.client.GetQRChannel(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("get QR channel: %w", err)
	}
	a.mu.Lock()
	a.qrCancel = cancel
	a.mu.Unlock()

	go a.forwardQR(qrChan)
	return nil
}

func (a *Adapter) stopPairing() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.qrCancel != nil {
		a.qrCancel()
		a.qrCancel = nil
	}
}

// forwardQR turns QR channel items into lifecycle signals. A timed out or
// failed pairing is reported as a recoverable close so the manager retries
// with a fresh channel.
func (a *Adapter) forwardQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		sink := a.getSink()
		if sink == nil {
			continue
		}
		switch {
		case IsQREvent(item):
			sink.HandleLifecycle(conn.Lifecycle{Kind: conn.LifecycleQR, QR: item.Code})
		case item.Event == "success":
			a.logger.Info("pairing succeeded")
			return
		case item.Event == "timeout":
			a.logger.Warn("QR code timeout")
			sink.HandleLifecycle(conn.Lifecycle{Kind: conn.LifecycleClosed, Cause: conn.CauseConnectFailure, Reason: "pairing timed out"})
			return
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			a.logger.Warn("pairing failed", zap.String("reason", reason))
			sink.HandleLifecycle(conn.Lifecycle{Kind: conn.LifecycleClosed, Cause: conn.CauseConnectFailure, Reason: reason})
			return
		}
	}
}

// IsQREvent checks whether a QR channel item is a QR code event.
func IsQREvent(item whatsmeow.QRChannelItem) bool {
	return item.Event == "code"
}
