package runs

import (
	"context"
	"errors"
	"time"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrUnknownMode = errors.New("unknown run mode")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Mode selects the pipeline stages a run executes.
type Mode string

const (
	ModeCrawl  Mode = "crawl"
	ModeEnrich Mode = "enrich"
	ModeEvents Mode = "events"
	ModeAll    Mode = "all"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeCrawl, ModeEnrich, ModeEvents, ModeAll:
		return m, nil
	}
	return "", ErrUnknownMode
}

// Run is one tracked pipeline execution.
type Run struct {
	ID          string     `json:"id"`
	Mode        Mode       `json:"mode"`
	Status      Status     `json:"status"`
	Products    int        `json:"products"`
	Categories  int        `json:"categories"`
	Promotions  int        `json:"promotions"`
	Faults      int        `json:"faults"`
	Changes     int        `json:"changes"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Outcome is what an executed run reports back.
type Outcome struct {
	Products   int
	Categories int
	Promotions int
	Faults     int
	Changes    int
}

// Repository persists runs.
type Repository interface {
	Create(ctx context.Context, run *Run) error
	Get(ctx context.Context, id string) (*Run, error)
	List(ctx context.Context, limit int) ([]*Run, error)
	// ClaimNext marks the oldest pending run as running and returns it, or
	// returns nil when nothing is pending.
	ClaimNext(ctx context.Context, now time.Time) (*Run, error)
	Finish(ctx context.Context, run *Run) error
}
