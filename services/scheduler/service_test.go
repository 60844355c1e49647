package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDueTrigger(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	task := Task{ID: "refresh", DailyAt: 4 * time.Hour, Interval: 6 * time.Hour}
	s := NewService(time.Second, task)

	at := func(h, m int) time.Time { return time.Date(2026, 5, 10, h, m, 0, 0, loc) }

	trigger, due := s.dueTrigger(task, at(1, 0))
	require.True(t, due)
	assert.Equal(t, TriggerStartup, trigger)

	s.status[task.ID] = TaskStatus{ID: task.ID, LastRunAt: at(1, 0)}
	_, due = s.dueTrigger(task, at(3, 59))
	assert.False(t, due, "nothing is due before the daily slot")

	trigger, due = s.dueTrigger(task, at(4, 0))
	require.True(t, due)
	assert.Equal(t, TriggerDaily, trigger)

	s.status[task.ID] = TaskStatus{ID: task.ID, LastRunAt: at(4, 0)}
	_, due = s.dueTrigger(task, at(9, 59))
	assert.False(t, due)

	trigger, due = s.dueTrigger(task, at(10, 0))
	require.True(t, due)
	assert.Equal(t, TriggerInterval, trigger)

	s.taskRunning[task.ID] = true
	_, due = s.dueTrigger(task, at(23, 0))
	assert.False(t, due, "a running task is never launched twice")
}

func TestDailyDisabled(t *testing.T) {
	task := Task{ID: "t", DailyAt: -1}
	s := NewService(time.Second, task)
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	s.status[task.ID] = TaskStatus{LastRunAt: now.Add(-20 * time.Hour)}

	_, due := s.dueTrigger(task, now)
	assert.False(t, due)
}

func TestRunTaskNowRejectsOverlap(t *testing.T) {
	release := make(chan struct{})
	var runs atomic.Int32
	task := Task{
		ID: "refresh",
		Run: func(ctx context.Context, trigger string) error {
			runs.Add(1)
			assert.Equal(t, TriggerManual, trigger)
			<-release
			return errors.New("upstream down")
		},
	}
	s := NewService(time.Second, task)

	require.NoError(t, s.RunTaskNow("refresh"))
	require.Eventually(t, func() bool { return s.IsTaskRunning("refresh") }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.RunTaskNow("refresh"), ErrTaskRunning)
	assert.ErrorIs(t, s.RunTaskNow("missing"), ErrTaskNotFound)

	close(release)
	s.Wait()

	assert.Equal(t, int32(1), runs.Load())
	status := s.GetTaskStatus()
	require.Len(t, status, 1)
	assert.False(t, status[0].Running)
	assert.Equal(t, "upstream down", status[0].LastError)
	assert.Equal(t, TriggerManual, status[0].LastTrigger)
}

func TestStartRunsStartupTasksOnce(t *testing.T) {
	var runs atomic.Int32
	task := Task{
		ID:         "refresh",
		RunOnStart: true,
		DailyAt:    -1,
		Run: func(ctx context.Context, trigger string) error {
			runs.Add(1)
			return nil
		},
	}
	other := Task{ID: "idle", DailyAt: -1, Run: func(context.Context, string) error {
		t.Errorf("task without RunOnStart must not run at startup")
		return nil
	}}
	s := NewService(10*time.Millisecond, task, other)

	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int32(1), runs.Load())
}
