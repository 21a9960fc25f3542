package ratelimit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper drops callers whose logs have emptied.
type Sweeper interface {
	Sweep(now time.Time) int
}

// Janitor periodically sweeps an in-memory store so idle callers do not accumulate.
type Janitor struct {
	cron   *cron.Cron
	target Sweeper
	logger *zap.Logger
}

// NewJanitor schedules target.Sweep every interval. Call Start to begin.
func NewJanitor(target Sweeper, interval time.Duration, logger *zap.Logger) (*Janitor, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %v", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	j := &Janitor{cron: cron.New(), target: target, logger: logger}
	if _, err := j.cron.AddFunc(fmt.Sprintf("@every %s", interval), j.run); err != nil {
		return nil, fmt.Errorf("schedule sweep: %w", err)
	}
	return j, nil
}

func (j *Janitor) run() {
	if removed := j.target.Sweep(time.Now()); removed > 0 {
		j.logger.Debug("swept idle rate limit callers", zap.Int("removed", removed))
	}
}

func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
