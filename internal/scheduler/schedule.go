package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is how long the loop sleeps between cycles without a cron expression.
const DefaultPollInterval = time.Hour

// Schedule yields the next wake time after t. cron.Schedule satisfies it.
type Schedule interface {
	Next(t time.Time) time.Time
}

type intervalSchedule time.Duration

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(time.Duration(s))
}

// NewSchedule returns a standard five-field cron schedule when expr is set,
// otherwise a fixed interval (DefaultPollInterval when interval is not positive).
func NewSchedule(interval time.Duration, expr string) (Schedule, error) {
	if expr = strings.TrimSpace(expr); expr != "" {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return nil, fmt.Errorf("parse poll cron %q: %w", expr, err)
		}
		return sched, nil
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return intervalSchedule(interval), nil
}
