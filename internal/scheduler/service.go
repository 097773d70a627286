// Package scheduler owns the recurring-task registry.
//
// Guarantees per task:
//   - single-flight: a tick firing while the previous run is still going is
//     skipped, not queued
//   - misfire tolerance: a tick delayed past its grace window is dropped;
//     cron keeps one timer per entry, so a pile of missed ticks collapses
//     into a single late one (coalescing)
//   - a run's error or panic is logged and never unregisters the task
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"trendbot/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config

	c    *cron.Cron
	defs []*taskDef

	runCtx    context.Context
	runCancel context.CancelFunc

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger) *Service {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 100
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log}
}

// AddInterval registers a recurring task. Safe before or after Start.
// Re-registering the same name replaces the previous definition.
func (s *Service) AddInterval(name string, every, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("name required")
	}
	if every <= 0 {
		return "", fmt.Errorf("interval must be > 0")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(name)

	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}
	d := &taskDef{
		id:      fmt.Sprintf("interval:%d", time.Now().UnixNano()),
		name:    name,
		every:   every,
		timeout: timeout,
		opt:     opt,
		job:     job,
		state:   &runState{},
	}
	s.defs = append(s.defs, d)
	if s.c != nil {
		if err := s.scheduleLocked(d); err != nil {
			return "", err
		}
	}
	s.log.Debug("schedule registered",
		logx.String("name", name), logx.String("id", d.id),
		logx.Duration("every", every), logx.Duration("timeout", timeout),
		logx.Duration("grace", opt.Grace))
	return d.id, nil
}

func (s *Service) removeLocked(name string) {
	for i, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			s.defs = append(s.defs[:i], s.defs[i+1:]...)
			return
		}
	}
}

func (s *Service) scheduleLocked(d *taskDef) error {
	id, err := s.c.AddFunc(fmt.Sprintf("@every %s", d.every), func() { s.fire(d) })
	if err != nil {
		return err
	}
	d.entryID = id
	d.nmu.Lock()
	d.next = time.Now().Add(d.every)
	d.nmu.Unlock()
	return nil
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled || s.c != nil {
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	s.c = cron.New()
	for _, d := range s.defs {
		if err := s.scheduleLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("name", d.name), logx.Err(err))
		}
	}
	s.c.Start()
	s.log.Info("scheduler started", logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering and waits (bounded by ctx) for in-flight runs that
// cron is tracking.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.runCancel
	s.c = nil
	s.runCancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("scheduler stopped")
}

// fire runs one tick of d inline (cron dispatches each entry on its own
// goroutine).
func (s *Service) fire(d *taskDef) {
	now := time.Now()

	// Misfire check against the expected fire time.
	d.nmu.Lock()
	expected := d.next
	d.next = now.Add(d.every)
	d.nmu.Unlock()
	if d.opt.Grace > 0 && !expected.IsZero() && now.Sub(expected) > d.opt.Grace {
		s.log.Warn("misfired run dropped",
			logx.String("task", d.name),
			logx.Time("expected", expected),
			logx.Duration("late", now.Sub(expected)))
		s.record(HistoryItem{ID: d.id, Name: d.name, Started: now, Outcome: OutcomeMisfire})
		return
	}

	// Single-flight: skip if the previous run is still going.
	d.state.mu.Lock()
	if d.state.running {
		d.state.mu.Unlock()
		s.log.Warn("run skipped; previous still in flight", logx.String("task", d.name))
		s.record(HistoryItem{ID: d.id, Name: d.name, Started: now, Outcome: OutcomeSkipped})
		return
	}
	d.state.running = true
	d.state.mu.Unlock()
	defer func() {
		d.state.mu.Lock()
		d.state.running = false
		d.state.mu.Unlock()
	}()

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	err := s.runSafe(ctx, d)
	item := HistoryItem{ID: d.id, Name: d.name, Started: now, Duration: time.Since(now), Outcome: OutcomeOK}
	if err != nil {
		item.Outcome = OutcomeError
		item.Error = err.Error()
		s.log.Error("task run failed", logx.String("task", d.name), logx.Duration("took", item.Duration), logx.Err(err))
	} else {
		s.log.Info("task run completed", logx.String("task", d.name), logx.Duration("took", item.Duration))
	}
	s.record(item)
}

// runSafe converts a panic into an error so one bad run can't take down the
// scheduler goroutine.
func (s *Service) runSafe(ctx context.Context, d *taskDef) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.log.Error("panic in task", logx.String("task", d.name),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return d.job(ctx)
}

func (s *Service) record(item HistoryItem) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, item)
	if over := len(s.history) - s.cfg.HistorySize; over > 0 {
		s.history = append([]HistoryItem(nil), s.history[over:]...)
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{Enabled: s.cfg.Enabled}
	for _, d := range s.defs {
		info := ScheduleInfo{ID: d.id, Name: d.name, Every: d.every}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
