package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-speaking-lab/internal/dto"
	"github.com/noah-isme/gema-speaking-lab/internal/models"
	"github.com/noah-isme/gema-speaking-lab/internal/repository"
	"github.com/noah-isme/gema-speaking-lab/internal/utils"
)

// ReviewHandler lets teachers read a student's saved practice work and
// mark it graded or returned.
type ReviewHandler struct {
	submissions repository.SubmissionRepository
	progress    repository.ProgressRepository
	uploads     repository.UploadRepository
	validator   *validator.Validate
	logger      zerolog.Logger
}

// NewReviewHandler constructs a review handler.
func NewReviewHandler(submissions repository.SubmissionRepository, progress repository.ProgressRepository, uploads repository.UploadRepository, validator *validator.Validate, logger zerolog.Logger) *ReviewHandler {
	return &ReviewHandler{
		submissions: submissions,
		progress:    progress,
		uploads:     uploads,
		validator:   validator,
		logger:      logger.With().Str("component", "review_handler").Logger(),
	}
}

// Register wires review routes; callers guard them with RequireRole.
func (h *ReviewHandler) Register(router fiber.Router) {
	router.Get("/assignments/:assignmentID/students/:studentID", h.get)
	router.Put("/assignments/:assignmentID/students/:studentID/state", h.setState)
}

func (h *ReviewHandler) get(c *fiber.Ctx) error {
	assignmentID, studentID, err := reviewParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment or student id")
	}

	ctx := c.UserContext()
	submission, err := h.submissions.Get(ctx, assignmentID, studentID)
	if err != nil {
		return h.internal(c, err)
	}
	records, err := h.progress.ListForStudent(ctx, assignmentID, studentID)
	if err != nil {
		return h.internal(c, err)
	}

	response := dto.ReviewResponse{
		Submission: dto.NewSubmissionResponse(submission),
		Items:      make([]dto.ReviewItemResponse, 0, len(records)),
	}
	for _, record := range records {
		uploads, err := h.uploads.ListForItem(ctx, assignmentID, studentID, record.ItemID)
		if err != nil {
			return h.internal(c, err)
		}
		response.Items = append(response.Items, dto.NewReviewItemResponse(record, uploads))
	}
	return utils.SendSuccess(c, "student practice work", response)
}

func (h *ReviewHandler) setState(c *fiber.Ctx) error {
	assignmentID, studentID, err := reviewParams(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid assignment or student id")
	}
	var payload dto.ReviewStateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	current, err := h.submissions.Get(ctx, assignmentID, studentID)
	if err != nil {
		return h.internal(c, err)
	}
	next := models.SubmissionState(payload.State)
	if !current.State.CanTransition(next) {
		return utils.SendError(c, fiber.StatusConflict, "cannot move a "+string(current.State)+" submission to "+payload.State)
	}

	if err := h.submissions.SetState(ctx, assignmentID, studentID, next); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "submission not found")
		}
		return h.internal(c, err)
	}
	requestLogger(h.logger, c).Info().
		Uint("assignment_id", assignmentID).
		Uint("student_id", studentID).
		Uint("reviewer_id", userIDFromContext(c)).
		Str("reviewer_role", userRoleFromContext(c)).
		Str("state", payload.State).
		Msg("submission reviewed")

	current.State = next
	return utils.SendSuccess(c, "submission updated", dto.NewSubmissionResponse(current))
}

func (h *ReviewHandler) internal(c *fiber.Ctx, err error) error {
	requestLogger(h.logger, c).Error().Err(err).Msg("review request failed")
	return utils.SendError(c, fiber.StatusInternalServerError, "review request failed")
}

func reviewParams(c *fiber.Ctx) (uint, uint, error) {
	assignmentID, err := parseIDParam(c, "assignmentID")
	if err != nil {
		return 0, 0, err
	}
	studentID, err := parseIDParam(c, "studentID")
	if err != nil {
		return 0, 0, err
	}
	return assignmentID, studentID, nil
}
