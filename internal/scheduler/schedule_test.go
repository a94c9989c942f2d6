package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewScheduleCron(t *testing.T) {
	t.Parallel()

	sched, err := NewSchedule(time.Minute, "*/15 * * * *")
	require.NoError(t, err)
	from := time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC)
	require.Equal(t, time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC), sched.Next(from))
}

func TestNewScheduleInterval(t *testing.T) {
	t.Parallel()

	sched, err := NewSchedule(30*time.Minute, "")
	require.NoError(t, err)
	require.Equal(t, t0.Add(30*time.Minute), sched.Next(t0))

	sched, err = NewSchedule(0, "  ")
	require.NoError(t, err)
	require.Equal(t, t0.Add(DefaultPollInterval), sched.Next(t0))
}

func TestNewScheduleRejectsBadCron(t *testing.T) {
	t.Parallel()

	_, err := NewSchedule(0, "every tuesday")
	require.Error(t, err)
}
