package hub

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Replayer broadcasts recorded frames at a fixed interval.
type Replayer struct {
	hub      *Hub
	frames   []RecordedFrame
	group    string
	interval time.Duration
	loop     bool
	logger   *zap.Logger
}

// NewReplayer creates a Replayer. A non-empty group overrides the group
// stored with each frame.
func NewReplayer(hub *Hub, frames []RecordedFrame, group string, interval time.Duration, loop bool, logger *zap.Logger) *Replayer {
	if interval <= 0 {
		interval = time.Second
	}
	return &Replayer{
		hub:      hub,
		frames:   frames,
		group:    group,
		interval: interval,
		loop:     loop,
		logger:   logger.Named("replay"),
	}
}

// Run starts the replay loop. Call in a goroutine.
// Returns when context is cancelled or the recording is exhausted.
func (r *Replayer) Run(ctx context.Context) {
	if len(r.frames) == 0 {
		r.logger.Warn("recording is empty, nothing to replay")
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("replay started",
		zap.Int("frames", len(r.frames)),
		zap.Duration("interval", r.interval),
		zap.Bool("loop", r.loop),
	)

	idx := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("replay stopping")
			return

		case <-ticker.C:
			if idx >= len(r.frames) {
				if !r.loop {
					r.logger.Info("replay finished", zap.Int("frames", len(r.frames)))
					return
				}
				// Wrap around for continuous playback
				idx = 0
			}
			r.broadcast(idx)
			idx++
		}
	}
}

func (r *Replayer) broadcast(idx int) {
	if r.hub.ClientCount() == 0 {
		return
	}
	rf := r.frames[idx]
	group := rf.Group
	if r.group != "" {
		group = r.group
	}
	r.hub.Broadcast(group, rf.Frame)

	r.logger.Debug("broadcast frame",
		zap.Int("index", idx),
		zap.String("group", group),
		zap.Int("size", len(rf.Frame)),
	)
}
