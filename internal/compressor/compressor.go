package compressor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Compressor defines the interface for PDF compression.
type Compressor interface {
	// Compress transcodes inputPath with the named quality profile and writes
	// the result to outputPath, or to a derived path when outputPath is empty.
	Compress(ctx context.Context, inputPath, quality, outputPath string) (*Result, error)
}

// Result describes a successfully compressed file. The caller owns OutputPath.
type Result struct {
	JobID          string
	InputPath      string
	OutputPath     string
	Profile        string
	OriginalSize   int64
	CompressedSize int64
	RatioPercent   float64
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration returns how long the job took.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// SavedBytes returns the number of bytes saved. Negative when the output grew.
func (r *Result) SavedBytes() int64 {
	return r.OriginalSize - r.CompressedSize
}

// State is the lifecycle position of a Job.
type State int

const (
	StateCreated State = iota
	StateValidating
	StateInvoking
	StateSucceeded
	StateFailed
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateValidating:
		return "validating"
	case StateInvoking:
		return "invoking"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// TransitionFunc observes job state changes. It runs on the compressing
// goroutine and must not block.
type TransitionFunc func(job *Job, from, to State)

// Job is a single compression request. It is created per call and never reused.
type Job struct {
	ID         string
	InputPath  string
	OutputPath string
	Quality    string
	Profile    QualityProfile
	StartedAt  time.Time

	state        State
	onTransition TransitionFunc
}

func newJob(inputPath, quality, outputPath string, onTransition TransitionFunc) *Job {
	return &Job{
		ID:           uuid.NewString(),
		InputPath:    inputPath,
		OutputPath:   outputPath,
		Quality:      quality,
		StartedAt:    time.Now(),
		state:        StateCreated,
		onTransition: onTransition,
	}
}

// State returns the current state of the job.
func (j *Job) State() State {
	return j.state
}

// advance moves the job forward. Failed is reachable from any non-terminal
// state, every other target only from its direct predecessor.
func (j *Job) advance(to State) error {
	from := j.state
	if from.IsTerminal() {
		return fmt.Errorf("job %s: already %s, cannot move to %s", j.ID, from, to)
	}
	if to != StateFailed && to != from+1 {
		return fmt.Errorf("job %s: invalid transition %s -> %s", j.ID, from, to)
	}

	j.state = to
	if j.onTransition != nil {
		j.onTransition(j, from, to)
	}
	return nil
}
