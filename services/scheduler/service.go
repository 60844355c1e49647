package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Trigger names why a task ran.
const (
	TriggerStartup  = "startup"
	TriggerDaily    = "daily"
	TriggerInterval = "interval"
	TriggerManual   = "manual"
)

var (
	ErrTaskRunning  = errors.New("task is already running")
	ErrTaskNotFound = errors.New("task not found")
)

const defaultCheckInterval = 30 * time.Second

// Task is a unit of recurring work.
type Task struct {
	ID   string
	Name string
	Run  func(ctx context.Context, trigger string) error
	// RunOnStart executes the task as soon as the scheduler starts.
	RunOnStart bool
	// DailyAt is an offset from local midnight; negative disables the daily trigger.
	DailyAt time.Duration
	// Interval re-runs the task this long after its last run; zero disables it.
	Interval time.Duration
}

// TaskStatus reports the last execution of a task.
type TaskStatus struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Running     bool      `json:"running"`
	LastRunAt   time.Time `json:"lastRunAt,omitempty"`
	LastTrigger string    `json:"lastTrigger,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
}

// Service runs tasks on their triggers. A task never overlaps with itself.
type Service struct {
	tasks         []Task
	checkInterval time.Duration
	now           func() time.Time

	// Runtime state
	mu      sync.RWMutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	// Task state tracking (in-memory, not persisted)
	taskMu      sync.RWMutex
	taskRunning map[string]bool
	status      map[string]TaskStatus
}

// NewService creates a scheduler for tasks. checkInterval <= 0 uses 30s.
func NewService(checkInterval time.Duration, tasks ...Task) *Service {
	if checkInterval <= 0 {
		checkInterval = defaultCheckInterval
	}
	return &Service{
		tasks:         tasks,
		checkInterval: checkInterval,
		now:           time.Now,
		taskRunning:   make(map[string]bool),
		status:        make(map[string]TaskStatus),
	}
}

// WithClock replaces the time source (used by tests).
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start begins the scheduler background loop
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	// Tasks that do not run on start count as freshly run, so the daily trigger waits for
	// the next occurrence instead of firing immediately.
	started := s.now()
	s.taskMu.Lock()
	for _, task := range s.tasks {
		if !task.RunOnStart {
			if _, ok := s.status[task.ID]; !ok {
				s.status[task.ID] = TaskStatus{ID: task.ID, Name: task.Name, LastRunAt: started}
			}
		}
	}
	s.taskMu.Unlock()

	s.wg.Add(1)
	go s.schedulerLoop()

	log.Printf("[scheduler] started with %d task(s)", len(s.tasks))
	return nil
}

// Stop cancels running tasks and waits for them until ctx expires.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("[scheduler] stopped gracefully")
	case <-ctx.Done():
		log.Println("[scheduler] stopped (timeout)")
	}
	return nil
}

func (s *Service) schedulerLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	s.checkAndRunTasks()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.checkAndRunTasks()
		}
	}
}

func (s *Service) checkAndRunTasks() {
	now := s.now()
	for _, task := range s.tasks {
		trigger, due := s.dueTrigger(task, now)
		if !due {
			continue
		}
		s.launch(task, trigger)
	}
}

// dueTrigger decides whether task must run at now and under which trigger.
func (s *Service) dueTrigger(task Task, now time.Time) (string, bool) {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	if s.taskRunning[task.ID] {
		return "", false
	}
	st, ran := s.status[task.ID]
	if !ran || st.LastRunAt.IsZero() {
		return TriggerStartup, true
	}

	if task.DailyAt >= 0 {
		if slot := dailySlot(now, task.DailyAt); !now.Before(slot) && st.LastRunAt.Before(slot) {
			return TriggerDaily, true
		}
	}
	if task.Interval > 0 && now.Sub(st.LastRunAt) >= task.Interval {
		return TriggerInterval, true
	}
	return "", false
}

// dailySlot returns today's occurrence of the wall-clock offset in now's location.
func dailySlot(now time.Time, offset time.Duration) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, now.Location()).Add(offset)
}

func (s *Service) launch(task Task, trigger string) {
	s.taskMu.Lock()
	if s.taskRunning[task.ID] {
		s.taskMu.Unlock()
		return
	}
	s.taskRunning[task.ID] = true
	s.taskMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeTask(task, trigger)
	}()
}

func (s *Service) executeTask(task Task, trigger string) {
	defer func() {
		s.taskMu.Lock()
		delete(s.taskRunning, task.ID)
		s.taskMu.Unlock()
	}()

	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	log.Printf("[scheduler] executing task %s (trigger=%s)", task.ID, trigger)
	err := task.Run(ctx, trigger)

	st := TaskStatus{ID: task.ID, Name: task.Name, LastRunAt: s.now(), LastTrigger: trigger}
	if err != nil {
		st.LastError = err.Error()
		log.Printf("[scheduler] task %s failed: %v", task.ID, err)
	}
	s.taskMu.Lock()
	s.status[task.ID] = st
	s.taskMu.Unlock()
}

// RunTaskNow triggers immediate asynchronous execution of a task.
func (s *Service) RunTaskNow(taskID string) error {
	for _, task := range s.tasks {
		if task.ID != taskID {
			continue
		}
		if s.IsTaskRunning(taskID) {
			return ErrTaskRunning
		}
		s.launch(task, TriggerManual)
		return nil
	}
	return ErrTaskNotFound
}

// GetTaskStatus returns all tasks with their current status.
func (s *Service) GetTaskStatus() []TaskStatus {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()

	out := make([]TaskStatus, 0, len(s.tasks))
	for _, task := range s.tasks {
		st, ok := s.status[task.ID]
		if !ok {
			st = TaskStatus{ID: task.ID, Name: task.Name}
		}
		st.Running = s.taskRunning[task.ID]
		out = append(out, st)
	}
	return out
}

// IsTaskRunning checks if a specific task is currently running
func (s *Service) IsTaskRunning(taskID string) bool {
	s.taskMu.RLock()
	defer s.taskMu.RUnlock()
	return s.taskRunning[taskID]
}

// Wait blocks until every launched task has finished. Only meaningful while the loop is
// not running, e.g. for one-shot CLI runs.
func (s *Service) Wait() {
	s.wg.Wait()
}
