package run

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/khanhnv2901/seca-compliance/internal/check"
	sharedErrors "github.com/khanhnv2901/seca-compliance/internal/shared/errors"
	"github.com/khanhnv2901/seca-compliance/internal/summary"
	"github.com/khanhnv2901/seca-compliance/internal/target"
)

// Run represents one execution of a check selection against a target.
// It is the aggregate root that owns the results and their summary.
type Run struct {
	id          string
	operator    string
	target      string
	targetKind  target.Kind
	selection   string
	startedAt   time.Time
	completedAt time.Time
	status      Status
	results     []check.Result
	summary     summary.Summary
	failure     string
	metadata    Metadata
}

// Status represents the lifecycle state of a run
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
)

// Finished reports whether s is a terminal state.
func (s Status) Finished() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Metadata contains integrity information about the run's audit rows
type Metadata struct {
	AuditHash     string
	HashAlgorithm string
}

// New creates a pending run
func New(operator, targetDesc string, kind target.Kind, selection string) (*Run, error) {
	if operator == "" {
		return nil, sharedErrors.ErrEmptyOperator
	}
	if targetDesc == "" {
		return nil, fmt.Errorf("%w: target", sharedErrors.ErrMissingRequired)
	}

	return &Run{
		id:         uuid.NewString(),
		operator:   operator,
		target:     targetDesc,
		targetKind: kind,
		selection:  selection,
		startedAt:  time.Now(),
		status:     StatusPending,
		results:    make([]check.Result, 0),
		summary:    summary.Aggregate(nil),
	}, nil
}

// Snapshot is the persisted form of a run.
type Snapshot struct {
	ID          string
	Operator    string
	Target      string
	TargetKind  target.Kind
	Selection   string
	StartedAt   time.Time
	CompletedAt time.Time
	Status      Status
	Results     []check.Result
	Summary     summary.Summary
	Failure     string
	Metadata    Metadata
}

// Reconstruct creates a run from persisted data
func Reconstruct(s Snapshot) *Run {
	results := s.Results
	if results == nil {
		results = make([]check.Result, 0)
	}
	return &Run{
		id:          s.ID,
		operator:    s.Operator,
		target:      s.Target,
		targetKind:  s.TargetKind,
		selection:   s.Selection,
		startedAt:   s.StartedAt,
		completedAt: s.CompletedAt,
		status:      s.Status,
		results:     results,
		summary:     s.Summary,
		failure:     s.Failure,
		metadata:    s.Metadata,
	}
}

// Snapshot returns a copy of the run's state.
func (r *Run) Snapshot() Snapshot {
	return Snapshot{
		ID:          r.id,
		Operator:    r.operator,
		Target:      r.target,
		TargetKind:  r.targetKind,
		Selection:   r.selection,
		StartedAt:   r.startedAt,
		CompletedAt: r.completedAt,
		Status:      r.status,
		Results:     r.Results(),
		Summary:     r.summary,
		Failure:     r.failure,
		Metadata:    r.metadata,
	}
}

// Business methods

// Start marks the run as running
func (r *Run) Start() error {
	if r.status != StatusPending {
		return sharedErrors.ErrRunAlreadyStarted
	}
	r.status = StatusRunning
	r.startedAt = time.Now()
	return nil
}

// Record adds a check result to the run
func (r *Run) Record(res check.Result) error {
	if r.status == StatusPending {
		return sharedErrors.ErrRunNotStarted
	}
	if r.status.Finished() {
		return sharedErrors.ErrRunAlreadyFinished
	}
	r.results = append(r.results, res)
	return nil
}

// Complete marks the run as completed with its summary
func (r *Run) Complete(s summary.Summary) error {
	return r.finish(StatusCompleted, s)
}

// Cancel marks the run as cancelled. Results recorded so far are kept.
func (r *Run) Cancel(s summary.Summary) error {
	return r.finish(StatusCancelled, s)
}

func (r *Run) finish(status Status, s summary.Summary) error {
	if r.status != StatusRunning {
		if r.status.Finished() {
			return sharedErrors.ErrRunAlreadyFinished
		}
		return sharedErrors.ErrRunNotStarted
	}
	r.status = status
	r.summary = s
	r.completedAt = time.Now()
	return nil
}

// Fail marks the run as failed
func (r *Run) Fail(cause error) error {
	if r.status.Finished() {
		return sharedErrors.ErrRunAlreadyFinished
	}
	r.status = StatusFailed
	r.summary = summary.Aggregate(r.results)
	if cause != nil {
		r.failure = cause.Error()
	}
	r.completedAt = time.Now()
	return nil
}

// SetAuditHash sets the audit trail hash for integrity verification
func (r *Run) SetAuditHash(hash, algorithm string) error {
	if hash == "" {
		return fmt.Errorf("%w: hash", sharedErrors.ErrMissingRequired)
	}
	if algorithm != "sha256" && algorithm != "sha512" {
		return fmt.Errorf("%w: unsupported hash algorithm %q", sharedErrors.ErrInvalidInput, algorithm)
	}
	r.metadata.AuditHash = hash
	r.metadata.HashAlgorithm = algorithm
	return nil
}

// Getters

func (r *Run) ID() string { return r.id }

func (r *Run) Operator() string { return r.operator }

func (r *Run) Target() string { return r.target }

func (r *Run) TargetKind() target.Kind { return r.targetKind }

func (r *Run) Selection() string { return r.selection }

func (r *Run) StartedAt() time.Time { return r.startedAt }

func (r *Run) CompletedAt() time.Time { return r.completedAt }

func (r *Run) Status() Status { return r.status }

func (r *Run) Summary() summary.Summary { return r.summary }

func (r *Run) Failure() string { return r.failure }

func (r *Run) Metadata() Metadata { return r.metadata }

// Overall is the aggregated status of the run's results.
func (r *Run) Overall() check.Status {
	if r.summary.Overall == "" {
		return check.StatusPassed
	}
	return r.summary.Overall
}

// Duration is the wall time of the run, or zero while it is in flight.
func (r *Run) Duration() time.Duration {
	if r.completedAt.IsZero() {
		return 0
	}
	return r.completedAt.Sub(r.startedAt)
}

func (r *Run) Results() []check.Result {
	// Return a copy to prevent external modification
	out := make([]check.Result, len(r.results))
	copy(out, r.results)
	return out
}
