package daemon

import (
	"context"
	"fmt"
	"io"

	"github.com/mdp/qrterminal"

	"github.com/matheus3301/wppagent/internal/bus"
)

// printQR renders pairing codes published on the bus until ctx is done.
func printQR(ctx context.Context, b *bus.Bus, w io.Writer) {
	ch, unsubscribe := b.Subscribe(bus.KindConnQR, 4)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			code, ok := evt.Payload.(string)
			if !ok || code == "" {
				continue
			}
			fmt.Fprintln(w, "Scan this QR code with WhatsApp (Linked devices > Link a device):")
			qrterminal.GenerateHalfBlock(code, qrterminal.L, w)
		}
	}
}
