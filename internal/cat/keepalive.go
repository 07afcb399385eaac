package cat

import (
	"context"
	"time"
)

// RunKeepalive posts the ZZXV; keepalive to the bridge's output queue every
// 15 seconds until ctx is done (§4.7 "CAT bridge").
func RunKeepalive(ctx context.Context, b *Bridge) {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.QueueOutput(keepaliveCommand)
		}
	}
}
