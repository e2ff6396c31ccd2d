package handler

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-speaking-lab/internal/assessment"
	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/dto"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
	"github.com/noah-isme/gema-speaking-lab/internal/service"
	"github.com/noah-isme/gema-speaking-lab/internal/submission"
	"github.com/noah-isme/gema-speaking-lab/internal/upload"
	"github.com/noah-isme/gema-speaking-lab/internal/utils"
)

const recordingField = "audioBlob"

// PracticeHandler exposes practice workspaces over HTTP.
type PracticeHandler struct {
	service   service.PracticeService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewPracticeHandler constructs a practice handler.
func NewPracticeHandler(service service.PracticeService, validator *validator.Validate, logger zerolog.Logger) *PracticeHandler {
	return &PracticeHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "practice_handler").Logger(),
	}
}

// Register wires workspace routes. uploadLimit guards the recording upload
// route and may be nil.
func (h *PracticeHandler) Register(router fiber.Router, uploadLimit fiber.Handler) {
	if uploadLimit == nil {
		uploadLimit = func(c *fiber.Ctx) error { return c.Next() }
	}

	router.Post("", h.open)
	router.Get("/:workspaceID", h.view)
	router.Delete("/:workspaceID", h.close)
	router.Post("/:workspaceID/recording/start", h.startRecording)
	router.Post("/:workspaceID/recording/stop", h.stopRecording)
	router.Delete("/:workspaceID/recording", h.cancelRecording)
	router.Get("/:workspaceID/items/:activityID/:itemID", h.item)
	router.Put("/:workspaceID/items/:activityID/:itemID/answer", h.answer)
	router.Post("/:workspaceID/items/:activityID/:itemID/recording", uploadLimit, h.uploadRecording)
	router.Post("/:workspaceID/items/:activityID/:itemID/score", h.rescore)
	router.Get("/:workspaceID/submission", h.checkSubmission)
	router.Post("/:workspaceID/submission", h.submit)
}

func (h *PracticeHandler) open(c *fiber.Ctx) error {
	var payload dto.OpenWorkspaceRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	userAgent := strings.TrimSpace(payload.UserAgent)
	if userAgent == "" {
		userAgent = c.Get(fiber.HeaderUserAgent)
	}

	w, err := h.service.Open(c.UserContext(), service.OpenRequest{
		AssignmentID:   payload.AssignmentID,
		StudentID:      userIDFromContext(c),
		UserAgent:      userAgent,
		SupportedTypes: payload.SupportedTypes,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "practice workspace opened", workspaceResponse(w.View()))
}

func (h *PracticeHandler) view(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "practice workspace", workspaceResponse(w.View()))
}

func (h *PracticeHandler) close(c *fiber.Ctx) error {
	if err := h.service.Close(c.Params("workspaceID"), userIDFromContext(c)); err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "practice workspace closed", nil)
}

func (h *PracticeHandler) startRecording(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	var payload dto.StartRecordingRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	info, err := w.StartRecording(c.UserContext(), payload.ActivityID, payload.ItemID, payload.ReRecord)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "recording started", dto.NewSessionResponse(info))
}

func (h *PracticeHandler) stopRecording(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	item, err := w.StopRecording(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "recording saved, uploading", dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) cancelRecording(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	w.CancelRecording()
	return utils.SendSuccess(c, "recording discarded", nil)
}

func (h *PracticeHandler) item(c *fiber.Ctx) error {
	w, activityID, itemID, err := h.workspaceItem(c)
	if err != nil {
		return h.fail(c, err)
	}
	item, err := w.Item(activityID, itemID)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "item progress", dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) answer(c *fiber.Ctx) error {
	w, activityID, itemID, err := h.workspaceItem(c)
	if err != nil {
		return h.fail(c, err)
	}
	var payload dto.AnswerRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	item, err := w.SetAnswer(c.UserContext(), activityID, itemID, payload.Text)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "answer saved", dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) uploadRecording(c *fiber.Ctx) error {
	w, activityID, itemID, err := h.workspaceItem(c)
	if err != nil {
		return h.fail(c, err)
	}
	file, err := c.FormFile(recordingField)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, recordingField+" file is required")
	}

	item, err := w.SubmitFile(c.UserContext(), activityID, itemID, file)
	if err != nil {
		return h.failWithItem(c, err, item)
	}
	return utils.SendSuccess(c, "recording uploaded and scored", dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) rescore(c *fiber.Ctx) error {
	w, activityID, itemID, err := h.workspaceItem(c)
	if err != nil {
		return h.fail(c, err)
	}
	item, err := w.Rescore(c.UserContext(), activityID, itemID)
	if err != nil {
		return h.failWithItem(c, err, item)
	}
	return utils.SendSuccess(c, "recording scored", dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) checkSubmission(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "submission check", dto.NewGateResponse(w.CanSubmit()))
}

func (h *PracticeHandler) submit(c *fiber.Ctx) error {
	w, err := h.workspace(c)
	if err != nil {
		return h.fail(c, err)
	}
	var payload dto.SubmitRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	outcome, err := w.Submit(c.UserContext(), payload.Override)
	if err != nil {
		return h.fail(c, err)
	}
	return utils.SendSuccess(c, "assignment submitted", dto.SubmitResponse{
		Submission: dto.NewSubmissionResponse(outcome.Submission),
		Gate:       dto.NewGateResponse(outcome.Gate),
	})
}

func (h *PracticeHandler) workspace(c *fiber.Ctx) (*service.Workspace, error) {
	return h.service.Get(c.Params("workspaceID"), userIDFromContext(c))
}

func (h *PracticeHandler) workspaceItem(c *fiber.Ctx) (*service.Workspace, uint, uint, error) {
	w, err := h.workspace(c)
	if err != nil {
		return nil, 0, 0, err
	}
	activityID, err := parseIDParam(c, "activityID")
	if err != nil {
		return nil, 0, 0, err
	}
	itemID, err := parseIDParam(c, "itemID")
	if err != nil {
		return nil, 0, 0, err
	}
	return w, activityID, itemID, nil
}

var errInvalidID = errors.New("invalid id")

func parseIDParam(c *fiber.Ctx, key string) (uint, error) {
	value, err := strconv.ParseUint(c.Params(key), 10, 64)
	if err != nil || value == 0 {
		return 0, errInvalidID
	}
	return uint(value), nil
}

func workspaceResponse(view service.View) dto.WorkspaceResponse {
	return dto.NewWorkspaceResponse(view.ID, view.AssignmentID, view.Profile, view.Progress, view.Session, view.Gate, view.Notices)
}

func (h *PracticeHandler) failWithItem(c *fiber.Ctx, err error, item progress.ItemProgress) error {
	status, message := practiceStatus(err)
	if status == fiber.StatusInternalServerError {
		return h.fail(c, err)
	}
	if item.Key.ItemID == 0 {
		return utils.SendError(c, status, message)
	}
	return utils.SendErrorWithData(c, status, message, dto.NewItemProgressResponse(item))
}

func (h *PracticeHandler) fail(c *fiber.Ctx, err error) error {
	var incomplete *submission.IncompleteError
	if errors.As(err, &incomplete) {
		return utils.SendErrorWithData(c, fiber.StatusConflict, "finish every item before submitting", dto.NewGateResponse(incomplete.Result))
	}

	status, message := practiceStatus(err)
	if status == fiber.StatusInternalServerError {
		requestLogger(h.logger, c).Error().Err(err).Str("route", c.Route().Path).Msg("practice request failed")
	}
	return utils.SendError(c, status, message)
}

// practiceStatus maps pipeline errors to an HTTP status and the message the
// student sees.
func practiceStatus(err error) (int, string) {
	var rejection *capture.Rejection
	if errors.As(err, &rejection) {
		return fiber.StatusUnprocessableEntity, rejection.Message()
	}
	if failure, ok := upload.IsFailure(err); ok {
		return fiber.StatusBadGateway, failure.Message()
	}

	switch {
	case errors.Is(err, errInvalidID):
		return fiber.StatusBadRequest, "invalid activity or item id"
	case errors.Is(err, service.ErrWorkspaceNotFound):
		return fiber.StatusNotFound, "practice workspace not found"
	case errors.Is(err, service.ErrAssignmentNotFound):
		return fiber.StatusNotFound, "assignment not found"
	case errors.Is(err, progress.ErrUnknownItem):
		return fiber.StatusNotFound, "practice item not found"
	case errors.Is(err, service.ErrWorkspaceForbidden):
		return fiber.StatusForbidden, "practice workspace belongs to another student"
	case errors.Is(err, capture.ErrPermissionDenied):
		return fiber.StatusForbidden, "Microphone access was blocked. Allow it in your browser settings to record."
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return fiber.StatusConflict, "No microphone is connected to this workspace."
	case errors.Is(err, capture.ErrNoActiveSession):
		return fiber.StatusConflict, "There is no recording in progress."
	case errors.Is(err, progress.ErrWrongKind):
		return fiber.StatusBadRequest, "this item does not take that kind of answer"
	case errors.Is(err, service.ErrRecordingMissing):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, service.ErrRecordingTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error()
	case errors.Is(err, service.ErrRecordingSuperseded), errors.Is(err, upload.ErrSuperseded), errors.Is(err, assessment.ErrStale):
		return fiber.StatusConflict, "A newer recording replaced this one."
	case errors.Is(err, assessment.ErrNotUploaded):
		return fiber.StatusConflict, "Upload a recording before asking for a score."
	case errors.Is(err, assessment.ErrScoringFailed):
		return fiber.StatusBadGateway, "We couldn't score your recording. Try scoring it again."
	case errors.Is(err, service.ErrWorkClosed), errors.Is(err, submission.ErrNotAccepting):
		return fiber.StatusConflict, "This assignment was already submitted."
	}
	return fiber.StatusInternalServerError, "practice request failed"
}
