package broadcast

import (
	"context"
	"time"
)

// cleanupInterval matches spec §4.7's background sweep cadence.
const cleanupInterval = 60 * time.Second

// StartCleanupLoop runs CleanupAllEmptyChannels every 60 seconds until ctx
// is cancelled.
func (m *Manager) StartCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.CleanupAllEmptyChannels()
			case <-ctx.Done():
				return
			}
		}
	}()
}
