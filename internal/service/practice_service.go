package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/device"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
	"github.com/noah-isme/gema-speaking-lab/internal/retry"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
	"github.com/noah-isme/gema-speaking-lab/internal/telemetry"
	"github.com/noah-isme/gema-speaking-lab/internal/upload"
)

var (
	// ErrWorkspaceNotFound indicates an unknown or closed workspace id.
	ErrWorkspaceNotFound = errors.New("practice workspace not found")
	// ErrWorkspaceForbidden indicates the workspace belongs to another student.
	ErrWorkspaceForbidden = errors.New("practice workspace belongs to another student")
	// ErrAssignmentNotFound indicates the assignment does not exist.
	ErrAssignmentNotFound = errors.New("assignment not found")
)

const defaultMaxUploadBytes = 10 << 20

// Dependencies are the shared collaborators every workspace uses.
type Dependencies struct {
	Assignments repository.AssignmentRepository
	Progress    repository.ProgressRepository
	Uploads     repository.UploadRepository
	Submitter   *submission.Submitter
	Storage     upload.Storage
	Scorer      assessment.Scorer
	Sink        telemetry.Sink
}

// Settings tune the capture pipeline.
type Settings struct {
	Rules             capture.ProfileRules
	Validator         capture.ValidatorConfig
	MaxSessionSeconds int
	RetryPolicy       retry.Policy
	FinalizeTimeout   time.Duration
	MaxUploadBytes    int64
	// NewTicker overrides the session clock in tests.
	NewTicker func(time.Duration) capture.Ticker
}

// OpenRequest carries what the browser reports about itself.
type OpenRequest struct {
	AssignmentID   uint
	StudentID      uint
	UserAgent      string
	SupportedTypes []string
}

// PracticeService opens and tracks practice workspaces.
type PracticeService interface {
	Open(ctx context.Context, req OpenRequest) (*Workspace, error)
	Get(id string, studentID uint) (*Workspace, error)
	Close(id string, studentID uint) error
	Shutdown()
}

type practiceService struct {
	deps     Dependencies
	settings Settings
	logger   zerolog.Logger

	mu         sync.Mutex
	workspaces map[string]*Workspace
	byOwner    map[ownerKey]string
}

type ownerKey struct {
	assignmentID uint
	studentID    uint
}

// NewPracticeService constructs the workspace registry.
func NewPracticeService(deps Dependencies, settings Settings, logger zerolog.Logger) PracticeService {
	if deps.Sink == nil {
		deps.Sink = telemetry.Nop()
	}
	if len(settings.Rules.Platforms) == 0 {
		settings.Rules = capture.DefaultProfileRules()
	}
	if settings.MaxUploadBytes <= 0 {
		settings.MaxUploadBytes = defaultMaxUploadBytes
	}
	return &practiceService{
		deps:       deps,
		settings:   settings,
		logger:     logger.With().Str("component", "practice_service").Logger(),
		workspaces: make(map[string]*Workspace),
		byOwner:    make(map[ownerKey]string),
	}
}

// Open loads the assignment and saved progress and starts a workspace. A
// previous workspace of the same student on the same assignment is closed.
func (s *practiceService) Open(ctx context.Context, req OpenRequest) (*Workspace, error) {
	assignment, err := s.deps.Assignments.GetWithActivities(ctx, req.AssignmentID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssignmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load assignment: %w", err)
	}
	records, err := s.deps.Progress.ListForStudent(ctx, req.AssignmentID, req.StudentID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	entries, err := progress.EntriesFor(assignment, records)
	if err != nil {
		return nil, err
	}

	store := progress.NewStore()
	store.Load(entries)

	runtime := capture.StaticRuntime{Agent: req.UserAgent, Supported: req.SupportedTypes}
	profile := capture.Detect(runtime, s.settings.Rules)

	id := uuid.NewString()
	logger := s.logger.With().
		Str("workspace_id", id).
		Uint("assignment_id", req.AssignmentID).
		Uint("student_id", req.StudentID).
		Logger()

	baseCtx, cancel := context.WithCancel(context.Background())
	w := &Workspace{
		ID:           id,
		AssignmentID: req.AssignmentID,
		StudentID:    req.StudentID,
		OpenedAt:     time.Now().UTC(),
		assignment:   assignment,
		activities:   submission.ActivitiesFrom(assignment),
		profile:      profile,
		store:        store,
		device:       device.NewRemote(s.settings.FinalizeTimeout, logger),
		submitter:    s.deps.Submitter,
		progressRepo: s.deps.Progress,
		uploadRepo:   s.deps.Uploads,
		notices:      &noticeLog{},
		sanitizer:    bluemonday.StrictPolicy(),
		maxUpload:    s.settings.MaxUploadBytes,
		logger:       logger,
		ctx:          baseCtx,
		cancel:       cancel,
	}
	w.notifier = fanout{w.notices, w.device}

	sink := studentSink{inner: s.deps.Sink, studentID: req.StudentID}
	w.validator = capture.NewValidator(s.settings.Validator, sink, logger)
	w.uploader = upload.NewCoordinator(s.deps.Storage, store, upload.Options{
		Policy:    s.settings.RetryPolicy,
		Notifier:  w.notifier,
		Sink:      sink,
		StudentID: req.StudentID,
	}, logger)
	w.scoring = assessment.NewSynchronizer(s.deps.Scorer, store, w.notifier, sink, logger)
	w.manager = capture.NewManager(w.device, w.device, profile, capture.ManagerOptions{
		MaxSeconds:     s.settings.MaxSessionSeconds,
		Notifier:       w.notifier,
		OnBegin:        w.beginRecording,
		OnLimitReached: w.limitReached,
		NewTicker:      s.settings.NewTicker,
	}, logger)

	owner := ownerKey{assignmentID: req.AssignmentID, studentID: req.StudentID}
	s.mu.Lock()
	previous := s.workspaces[s.byOwner[owner]]
	if previous != nil {
		delete(s.workspaces, previous.ID)
	}
	s.workspaces[id] = w
	s.byOwner[owner] = id
	s.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	logger.Info().
		Str("platform", profile.PlatformName).
		Str("encoding", profile.Encoding).
		Str("duration_method", string(profile.DurationValidationMethod)).
		Int("items", len(entries)).
		Msg("practice workspace opened")
	return w, nil
}

func (s *practiceService) Get(id string, studentID uint) (*Workspace, error) {
	s.mu.Lock()
	w, ok := s.workspaces[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	if w.StudentID != studentID {
		return nil, ErrWorkspaceForbidden
	}
	return w, nil
}

func (s *practiceService) Close(id string, studentID uint) error {
	w, err := s.Get(id, studentID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.workspaces, id)
	owner := ownerKey{assignmentID: w.AssignmentID, studentID: w.StudentID}
	if s.byOwner[owner] == id {
		delete(s.byOwner, owner)
	}
	s.mu.Unlock()

	s.logger.Info().Str("workspace_id", id).Msg("practice workspace closed")
	return w.Close()
}

// Shutdown closes every open workspace.
func (s *practiceService) Shutdown() {
	s.mu.Lock()
	open := make([]*Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		open = append(open, w)
	}
	s.workspaces = make(map[string]*Workspace)
	s.byOwner = make(map[ownerKey]string)
	s.mu.Unlock()

	for _, w := range open {
		if err := w.Close(); err != nil {
			s.logger.Warn().Err(err).Str("workspace_id", w.ID).Msg("failed to close workspace")
		}
	}
}
