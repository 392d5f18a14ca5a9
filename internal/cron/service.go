package cron

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lichas/wabridge/internal/logging"
	"github.com/robfig/cron/v3"
)

type entry struct {
	job     Job
	entryID cron.EntryID

	runs       int
	lastRunAt  time.Time
	lastResult string
	lastError  string
}

// Service 定时任务服务
type Service struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	order   []string
	running bool

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewService 创建定时任务服务
func NewService() *Service {
	return &Service{
		jobs: make(map[string]*entry),
		cron: cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{}))),
	}
}

// AddJob validates the schedule and registers the job. Jobs added while the
// service runs are scheduled immediately.
func (s *Service) AddJob(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a function")
	}
	if _, err := cron.ParseStandard(job.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", job.Schedule, job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.Name)
	}
	e := &entry{job: job}
	s.jobs[job.Name] = e
	s.order = append(s.order, job.Name)

	if s.running {
		return s.schedule(e)
	}
	return nil
}

// Start 启动服务；ctx 取消时任务上下文也随之取消
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	for _, name := range s.order {
		if err := s.schedule(s.jobs[name]); err != nil {
			s.cancel()
			return err
		}
	}

	s.running = true
	s.cron.Start()
	logf("cron started jobs=%d", len(s.jobs))
	return nil
}

// Stop 停止调度并等待正在执行的任务
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, e := range s.jobs {
		s.cron.Remove(e.entryID)
		e.entryID = 0
	}
	cancel := s.cancel
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	cancel()
	logf("cron stopped")
}

// IsRunning 检查是否在运行
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// RunNow executes a job synchronously, outside its schedule.
func (s *Service) RunNow(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	_, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.execute(ctx, name)
}

// Status 获取服务状态
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{Running: s.running, Jobs: make([]JobStatus, 0, len(s.order))}
	for _, name := range s.order {
		e := s.jobs[name]
		js := JobStatus{
			Name:       name,
			Schedule:   e.job.Schedule,
			Runs:       e.runs,
			LastRunAt:  e.lastRunAt,
			LastResult: e.lastResult,
			LastError:  e.lastError,
		}
		if e.entryID != 0 {
			js.NextRunAt = s.cron.Entry(e.entryID).Next
		}
		st.Jobs = append(st.Jobs, js)
	}
	return st
}

// schedule must be called with s.mu held.
func (s *Service) schedule(e *entry) error {
	name := e.job.Name
	id, err := s.cron.AddFunc(e.job.Schedule, func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		_, _ = s.execute(ctx, name)
	})
	if err != nil {
		return fmt.Errorf("schedule job %s: %w", name, err)
	}
	e.entryID = id
	return nil
}

func (s *Service) execute(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	e := s.jobs[name]
	s.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	result, err := e.job.Run(ctx)

	s.mu.Lock()
	e.runs++
	e.lastRunAt = started
	e.lastResult = result
	e.lastError = ""
	if err != nil {
		e.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		logf("job %s failed after %s: %v", name, time.Since(started).Round(time.Millisecond), err)
	} else {
		logf("job %s done: %s", name, result)
	}
	return result, err
}

func logf(format string, args ...any) {
	if lg := logging.Get(); lg != nil && lg.Cron != nil {
		lg.Cron.Printf(format, args...)
	}
}

// cronLogger routes robfig's internal logging to the cron log file.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logf("%s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logf("%s: %v %v", msg, err, keysAndValues)
}
