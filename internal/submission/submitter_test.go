package submission

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

type stubSubmissionRepo struct {
	current models.AssignmentSubmission
	saved   []models.AssignmentSubmission
	records [][]models.ItemProgressRecord
	saveErr error
}

func (s *stubSubmissionRepo) Get(ctx context.Context, assignmentID, studentID uint) (models.AssignmentSubmission, error) {
	current := s.current
	if current.State == "" {
		current.State = models.SubmissionNotStarted
	}
	current.AssignmentID = assignmentID
	current.StudentID = studentID
	return current, nil
}

func (s *stubSubmissionRepo) Save(ctx context.Context, submission *models.AssignmentSubmission, records []models.ItemProgressRecord) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, *submission)
	s.records = append(s.records, records)
	s.current = *submission
	return nil
}

func (s *stubSubmissionRepo) SetState(ctx context.Context, assignmentID, studentID uint, state models.SubmissionState) error {
	s.current.State = state
	return nil
}

func submitRequest(t *testing.T, complete bool) Request {
	t.Helper()
	activity := audioActivity()
	activity.Items = activity.Items[:2]
	store := loadStore(t, activity)
	completeItem(t, store, progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: 100})
	if complete {
		completeItem(t, store, progress.ItemKey{AssignmentID: 1, ActivityID: 10, ItemID: 101})
	}
	return Request{AssignmentID: 1, StudentID: 42, Activities: []Activity{activity}, Snapshot: store.Snapshot()}
}

func TestSubmitBlocksIncompleteAssignment(t *testing.T) {
	repo := &stubSubmissionRepo{}
	submitter := NewSubmitter(repo, zerolog.Nop())

	outcome, err := submitter.Submit(context.Background(), submitRequest(t, false))
	require.ErrorIs(t, err, ErrIncomplete)

	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))
	require.Len(t, incomplete.Result.Incomplete, 1)
	require.False(t, outcome.Gate.OK)
	require.Empty(t, repo.saved)
}

func TestSubmitPersistsSnapshotAndState(t *testing.T) {
	repo := &stubSubmissionRepo{current: models.AssignmentSubmission{State: models.SubmissionInProgress}}
	submitter := NewSubmitter(repo, zerolog.Nop())

	outcome, err := submitter.Submit(context.Background(), submitRequest(t, true))
	require.NoError(t, err)
	require.True(t, outcome.Gate.OK)
	require.Equal(t, models.SubmissionSubmitted, outcome.Submission.State)
	require.False(t, outcome.Submission.Overridden)
	require.NotNil(t, outcome.Submission.SubmittedAt)

	require.Len(t, repo.saved, 1)
	require.Len(t, repo.records[0], 2)
	require.Equal(t, uint(42), repo.records[0][0].StudentID)
	require.NotEmpty(t, repo.records[0][0].RecordingURL)
	require.NotEmpty(t, repo.records[0][1].Assessment)
}

func TestSubmitOverrideSkipsGate(t *testing.T) {
	repo := &stubSubmissionRepo{}
	submitter := NewSubmitter(repo, zerolog.Nop())

	req := submitRequest(t, false)
	req.Override = true
	outcome, err := submitter.Submit(context.Background(), req)
	require.NoError(t, err)
	require.False(t, outcome.Gate.OK)
	require.True(t, outcome.Submission.Overridden)
	require.Equal(t, models.SubmissionSubmitted, outcome.Submission.State)
}

func TestSubmitAfterReturnResubmits(t *testing.T) {
	repo := &stubSubmissionRepo{current: models.AssignmentSubmission{ID: 3, State: models.SubmissionReturned}}
	submitter := NewSubmitter(repo, zerolog.Nop())

	outcome, err := submitter.Submit(context.Background(), submitRequest(t, true))
	require.NoError(t, err)
	require.Equal(t, models.SubmissionResubmitted, outcome.Submission.State)
}

func TestSubmitRejectsSubmittedOrGraded(t *testing.T) {
	for _, state := range []models.SubmissionState{models.SubmissionSubmitted, models.SubmissionGraded, models.SubmissionResubmitted} {
		repo := &stubSubmissionRepo{current: models.AssignmentSubmission{State: state}}
		submitter := NewSubmitter(repo, zerolog.Nop())

		_, err := submitter.Submit(context.Background(), submitRequest(t, true))
		require.ErrorIs(t, err, ErrNotAccepting, string(state))
		require.Empty(t, repo.saved)
	}
}

func TestSubmitSurfacesSaveFailure(t *testing.T) {
	repo := &stubSubmissionRepo{saveErr: errors.New("disk full")}
	submitter := NewSubmitter(repo, zerolog.Nop())

	_, err := submitter.Submit(context.Background(), submitRequest(t, true))
	require.ErrorContains(t, err, "disk full")
}

func TestMarkInProgressOnlyFromNotStarted(t *testing.T) {
	repo := &stubSubmissionRepo{}
	submitter := NewSubmitter(repo, zerolog.Nop())

	require.NoError(t, submitter.MarkInProgress(context.Background(), 1, 42))
	require.Equal(t, models.SubmissionInProgress, repo.current.State)

	repo.current.State = models.SubmissionReturned
	require.NoError(t, submitter.MarkInProgress(context.Background(), 1, 42))
	require.Equal(t, models.SubmissionReturned, repo.current.State)
	require.Len(t, repo.saved, 1)
}
