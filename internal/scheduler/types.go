package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the scheduler service.
type Config struct {
	Enabled        bool
	DefaultTimeout time.Duration
	HistorySize    int
}

// TaskOptions tunes one registered task.
type TaskOptions struct {
	// Grace is the misfire window: a tick arriving later than its expected
	// fire time by more than Grace is dropped instead of executed. Zero
	// disables the check.
	Grace time.Duration
}

// runState is shared between cron invocations of the same task to give
// single-flight semantics: an overlapping tick is skipped, never queued.
type runState struct {
	mu      sync.Mutex
	running bool
}

type taskDef struct {
	id      string
	name    string
	every   time.Duration
	timeout time.Duration
	opt     TaskOptions
	job     func(ctx context.Context) error
	state   *runState
	entryID cron.EntryID

	// expected next fire time, used for misfire detection
	nmu  sync.Mutex
	next time.Time
}

// Outcome labels one history entry.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"  // previous run still in flight
	OutcomeMisfire Outcome = "misfire"  // tick arrived past the grace window
)

type HistoryItem struct {
	ID       string
	Name     string
	Started  time.Time
	Duration time.Duration
	Outcome  Outcome
	Error    string
}

type ScheduleInfo struct {
	ID    string
	Name  string
	Every time.Duration
	Next  time.Time
	Prev  time.Time
}

type Snapshot struct {
	Enabled   bool
	Schedules []ScheduleInfo
	History   []HistoryItem
}
