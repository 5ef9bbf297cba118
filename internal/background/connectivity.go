package background

import (
	"context"
	"log/slog"
	"time"
)

// Pinger checks whether the remote store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OnlineSetter receives connectivity transitions.
type OnlineSetter interface {
	SetOnline(ctx context.Context, online bool)
}

// WatchConnectivity probes p every interval and reports transitions to
// target until ctx is done. The first probe runs immediately; target is
// assumed online beforehand.
func WatchConnectivity(ctx context.Context, p Pinger, target OnlineSetter, interval time.Duration, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	online := true
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, interval)
		err := p.Ping(pctx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		now := err == nil
		if now == online {
			return
		}
		online = now
		if err != nil {
			logger.Warn("remote unreachable", slog.String("error", err.Error()))
		} else {
			logger.Info("remote reachable again")
		}
		target.SetOnline(ctx, online)
	}

	probe()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
