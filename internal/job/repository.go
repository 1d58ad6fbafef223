package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when a job cannot be found by ID.
var ErrJobNotFound = errors.New("job not found")

// Filter narrows List. Zero fields match everything.
type Filter struct {
	ShowName string
	Status   Status
}

// Match reports whether j passes the filter.
func (f Filter) Match(j *Job) bool {
	if f.ShowName != "" && j.ShowName != f.ShowName {
		return false
	}
	return f.Status == "" || j.GetStatus() == f.Status
}

// Repository stores episode jobs.
type Repository interface {
	// Save inserts the job or replaces the stored copy.
	Save(ctx context.Context, job *Job) error

	// FindByID returns ErrJobNotFound if the job does not exist.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns the jobs matching f, newest first.
	List(ctx context.Context, f Filter) ([]*Job, error)

	// Delete returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
