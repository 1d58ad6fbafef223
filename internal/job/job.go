// Package job provides the episode render Job with its state machine, the
// repository it is stored in, and the service that runs shows in the
// background.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/showrunner/internal/job/id"
	"github.com/maauso/showrunner/internal/show"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting to be run.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the show is being produced.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the run finished successfully.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the run stopped with an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the run was cancelled.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates the run exceeded the job timeout.
	StatusTimedOut Status = "TIMED_OUT"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// KnownStatus reports whether s is one of the job states.
func KnownStatus(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Output is what a finished run leaves behind.
type Output struct {
	RunDir       string
	AudioPath    string
	TimelinePath string
	ArchiveURL   string
	Entries      int
	DurationMs   int
}

// Job is one episode render.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// ShowName is copied from the show file.
	ShowName string
	// Show is the validated show file the job runs.
	Show show.Config
	// Status is the current job state.
	Status Status
	// Progress is the percentage of completion (0-100).
	Progress int
	// Error contains any error message if the job failed.
	Error string

	Output

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a queued job for cfg with a random ID.
func New(cfg show.Config) *Job {
	return NewWithID(id.Generate(), cfg)
}

// NewWithID creates a queued job for cfg with the given ID.
func NewWithID(jobID string, cfg show.Config) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		ShowName:  cfg.ShowName,
		Show:      cfg,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted:
		j.CompletedAt = j.UpdatedAt
		j.Progress = 100
	case StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED, recording errMsg.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	j.Error = errMsg
	j.mu.Unlock()
	return j.TransitionTo(StatusFailed)
}

// Cancel transitions the job to CANCELLED.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// Timeout transitions the job to TIMED_OUT.
func (j *Job) Timeout() error {
	return j.TransitionTo(StatusTimedOut)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// UpdateProgress sets the progress percentage, clamped to 0-100.
func (j *Job) UpdateProgress(progress int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Progress = min(max(progress, 0), 100)
	j.UpdatedAt = time.Now()
}

// SetOutput records what the run produced.
func (j *Job) SetOutput(out Output) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = out
	j.UpdatedAt = time.Now()
}

// ClearOutput forgets the produced files once they are deleted.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Output = Output{}
	j.UpdatedAt = time.Now()
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(validTransitions[j.Status]) == 0
}

// Clone creates a copy of the job for safe reads. The show file is shared;
// it is never modified after the job is created.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:          j.ID,
		ShowName:    j.ShowName,
		Show:        j.Show,
		Status:      j.Status,
		Progress:    j.Progress,
		Error:       j.Error,
		Output:      j.Output,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
