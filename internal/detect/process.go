package detect

import (
	"context"
	"syscall"
	"time"

	"github.com/groblegark/coop-sub001/internal/agentstate"
)

// ProcessWatcher is a minimal tier-4 process-level detector (D4). The
// distilled spec names tier 4 in its table but never specifies it
// separately; this backstops the PTY backend's own exit detection by
// polling `kill -0` on the child PID and emitting Exited once that fails.
// It does not know whether the PTY backend has already seen EOF, so it
// emits regardless — composite fusion's terminal-override rule (§4.5
// step 1) accepts whichever Exited sample arrives first.
type ProcessWatcher struct {
	PID      func() int32
	Interval time.Duration
}

func (d *ProcessWatcher) Tier() int { return 4 }

func (d *ProcessWatcher) Run(ctx context.Context, out chan<- Sample) {
	interval := d.Interval
	if interval <= 0 {
		interval = 1 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pid := d.PID()
			if pid == 0 {
				continue
			}
			if err := syscall.Kill(int(pid), 0); err != nil {
				emit(ctx, out, Sample{
					Tier:  4,
					State: agentstate.WithExit(agentstate.NewExitInfo(-1, -1)),
					Cause: "process:gone",
				})
				return
			}
		}
	}
}
