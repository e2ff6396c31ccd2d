package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/observability"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
)

var (
	// ErrIncomplete is matched by *IncompleteError.
	ErrIncomplete = errors.New("assignment has incomplete items")
	// ErrNotAccepting is returned when the submission is graded or already submitted.
	ErrNotAccepting = errors.New("submission is not accepting student work")
)

// IncompleteError carries the gate result that blocked a submission.
type IncompleteError struct {
	Result Result
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s: %d item(s) left", ErrIncomplete, len(e.Result.Incomplete))
}

func (e *IncompleteError) Is(target error) bool {
	return target == ErrIncomplete
}

// Request is one submit attempt by a student.
type Request struct {
	AssignmentID uint
	StudentID    uint
	Activities   []Activity
	Snapshot     progress.Snapshot
	// Override submits even when the gate reports incomplete items.
	Override bool
}

// Outcome reports what was stored.
type Outcome struct {
	Submission models.AssignmentSubmission
	Gate       Result
}

// Submitter runs the gate and persists the submission transition.
type Submitter struct {
	repo   repository.SubmissionRepository
	logger zerolog.Logger
	now    func() time.Time
}

func NewSubmitter(repo repository.SubmissionRepository, logger zerolog.Logger) *Submitter {
	return &Submitter{
		repo:   repo,
		logger: logger.With().Str("component", "submitter").Logger(),
		now:    time.Now,
	}
}

// Submit moves the student's submission to submitted (or resubmitted after a
// return) together with the progress snapshot.
func (s *Submitter) Submit(ctx context.Context, req Request) (Outcome, error) {
	tracer := otel.Tracer("github.com/noah-isme/gema-speaking-lab/internal/submission")
	ctx, span := tracer.Start(ctx, "submission.submit")
	span.SetAttributes(
		attribute.Int64("submission.assignment_id", int64(req.AssignmentID)),
		attribute.Int64("submission.student_id", int64(req.StudentID)),
		attribute.Bool("submission.override", req.Override),
	)
	defer span.End()

	gate := CanSubmit(req.Activities, req.Snapshot)
	span.SetAttributes(attribute.Int("submission.incomplete", len(gate.Incomplete)))
	if !gate.OK && !req.Override {
		observability.SubmissionChecks().WithLabelValues("blocked").Inc()
		span.SetStatus(codes.Error, "incomplete")
		return Outcome{Gate: gate}, &IncompleteError{Result: gate}
	}

	current, err := s.repo.Get(ctx, req.AssignmentID, req.StudentID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_lookup_failed")
		return Outcome{Gate: gate}, fmt.Errorf("load submission: %w", err)
	}
	if !current.State.AcceptsStudentWork() {
		span.SetStatus(codes.Error, "not_accepting")
		return Outcome{Submission: current, Gate: gate}, fmt.Errorf("%w: state %s", ErrNotAccepting, current.State)
	}
	target := current.State.SubmitTarget()
	if !current.State.CanTransition(target) {
		span.SetStatus(codes.Error, "not_accepting")
		return Outcome{Submission: current, Gate: gate}, fmt.Errorf("%w: %s to %s", ErrNotAccepting, current.State, target)
	}

	records, err := progress.Records(req.StudentID, req.Snapshot)
	if err != nil {
		return Outcome{Gate: gate}, err
	}

	submittedAt := s.now().UTC()
	next := current
	next.State = target
	next.Overridden = !gate.OK
	next.SubmittedAt = &submittedAt
	if err := s.repo.Save(ctx, &next, records); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "submission_save_failed")
		return Outcome{Submission: current, Gate: gate}, fmt.Errorf("save submission: %w", err)
	}

	if gate.OK {
		observability.SubmissionChecks().WithLabelValues("ok").Inc()
	} else {
		observability.SubmissionChecks().WithLabelValues("override").Inc()
	}
	s.logger.Info().
		Uint("assignment_id", req.AssignmentID).
		Uint("student_id", req.StudentID).
		Str("state", string(next.State)).
		Bool("overridden", next.Overridden).
		Int("incomplete", len(gate.Incomplete)).
		Msg("assignment submitted")

	return Outcome{Submission: next, Gate: gate}, nil
}

// MarkInProgress records that the student has started work. It is a no-op
// for any state other than not_started.
func (s *Submitter) MarkInProgress(ctx context.Context, assignmentID, studentID uint) error {
	current, err := s.repo.Get(ctx, assignmentID, studentID)
	if err != nil {
		return err
	}
	if current.State != models.SubmissionNotStarted {
		return nil
	}
	current.State = models.SubmissionInProgress
	return s.repo.Save(ctx, &current, nil)
}

// Status returns the student's current submission.
func (s *Submitter) Status(ctx context.Context, assignmentID, studentID uint) (models.AssignmentSubmission, error) {
	return s.repo.Get(ctx, assignmentID, studentID)
}
