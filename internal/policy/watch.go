package policy

import (
	"context"
	"os"
	"time"

	log "github.com/charmbracelet/log"
)

// DefaultWatchInterval is how often Watch polls the policy file.
const DefaultWatchInterval = 2 * time.Second

// Watch polls the policy file and reloads it when its modification time
// changes, so edits made outside the process take effect without a
// restart. Blocks until ctx is done. A store without a path returns
// immediately.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if s.path == "" {
		return
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	var lastMod time.Time
	if info, err := os.Stat(s.path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(s.path)
			if err != nil {
				continue
			}
			if info.ModTime().Equal(lastMod) {
				continue
			}
			lastMod = info.ModTime()

			if err := s.Reload(); err != nil {
				log.Warn("failed to reload policy file", "path", s.path, "error", err)
			} else {
				log.Debug("policy file reloaded", "path", s.path)
			}
		}
	}
}
