// Package jobs runs enrichment and auto-enrollment work items on a bounded
// pool with per-kind retries.
package jobs

import (
	"context"
	"errors"

	"github.com/sells-group/outreach-cli/internal/enroll"
)

// Kind names a job type in logs and metrics.
type Kind string

const (
	KindEnrich     Kind = "enrich"
	KindAutoEnroll Kind = "auto_enroll"
)

// Job is one unit of work. The set of jobs is closed: every job type has a
// method on Handler, so a new kind does not compile until it is handled.
type Job interface {
	Kind() Kind
	// Key identifies the prospect the job is about.
	Key() string
	Accept(ctx context.Context, h Handler) error
	isJob()
}

// Handler executes each job kind.
type Handler interface {
	HandleEnrich(ctx context.Context, j EnrichJob) error
	HandleAutoEnroll(ctx context.Context, j AutoEnrollJob) error
}

// EnrichJob enriches one prospect, optionally followed by the gate.
type EnrichJob struct {
	ProspectID string
	Domain     string
	Trigger    string
	AutoEnroll *enroll.Settings
}

// AutoEnrollJob runs the gate for an already enriched prospect.
type AutoEnrollJob struct {
	ProspectID string
	Domain     string
	Settings   enroll.Settings
}

func (EnrichJob) Kind() Kind     { return KindEnrich }
func (AutoEnrollJob) Kind() Kind { return KindAutoEnroll }

func (j EnrichJob) Key() string     { return j.Domain }
func (j AutoEnrollJob) Key() string { return j.Domain }

func (j EnrichJob) Accept(ctx context.Context, h Handler) error {
	return h.HandleEnrich(ctx, j)
}

func (j AutoEnrollJob) Accept(ctx context.Context, h Handler) error {
	return h.HandleAutoEnroll(ctx, j)
}

func (EnrichJob) isJob()     {}
func (AutoEnrollJob) isJob() {}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Permanent(nil) is nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
