package modbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerDueBeforeOrdersByTime(t *testing.T) {
	s := newScheduler()
	base := time.Now()
	s.Add("late", base.Add(2*time.Second))
	s.Add("early", base)
	s.Add("mid", base.Add(time.Second))

	due := s.DueBefore(base.Add(time.Second))
	require.Len(t, due, 2)
	assert.Equal(t, "early", due[0])
	assert.Equal(t, "mid", due[1])
	assert.Equal(t, 1, s.Len())
}

func TestSchedulerRemoveDropsDevice(t *testing.T) {
	s := newScheduler()
	now := time.Now()
	s.Add("d1", now)
	s.Remove("d1")
	assert.False(t, s.Contains("d1"))
	assert.Empty(t, s.DueBefore(now.Add(time.Hour)))
}

func TestSchedulerRescheduleReadmits(t *testing.T) {
	s := newScheduler()
	now := time.Now()
	s.Add("d1", now)
	popped := s.DueBefore(now)
	require.Equal(t, []string{"d1"}, popped)
	assert.False(t, s.Contains("d1"))

	s.Reschedule("d1", now.Add(time.Second))
	assert.True(t, s.Contains("d1"))
	assert.Empty(t, s.DueBefore(now))
	assert.Equal(t, []string{"d1"}, s.DueBefore(now.Add(time.Second)))
}

func TestSchedulerAddIsIdempotent(t *testing.T) {
	s := newScheduler()
	now := time.Now()
	s.Add("d1", now)
	s.Add("d1", now.Add(time.Hour))
	assert.Equal(t, 1, s.Len())
}
