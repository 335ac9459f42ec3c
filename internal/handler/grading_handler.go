package handler

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler exposes consensus grading endpoints.
type GradingHandler struct {
	service service.GradingService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(service service.GradingService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register attaches grading endpoints to the router group.
func (h *GradingHandler) Register(router fiber.Router) {
	router.Post("/batches", h.gradeBatch)
	router.Get("/batches", h.listRuns)
	router.Get("/batches/:batchId", h.getRun)
	router.Post("/questions", h.gradeQuestion)
	router.Post("/security/check", h.checkSecurity)
}

func (h *GradingHandler) gradeBatch(c *fiber.Ctx) error {
	var payload dto.BatchGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	actor := service.PromptActor{ID: userIDFromContext(c)}
	result, err := h.service.GradeBatch(c.UserContext(), payload, actor)
	if err != nil {
		return h.gradingError(c, err, "failed to grade batch")
	}

	message := "batch graded"
	if result.Incomplete {
		message = "batch partially graded"
	}
	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, message, result)
}

func (h *GradingHandler) gradeQuestion(c *fiber.Ctx) error {
	var payload dto.SingleGradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	result, err := h.service.GradeQuestion(c.UserContext(), payload)
	if err != nil {
		return h.gradingError(c, err, "failed to grade question")
	}

	return utils.SendSuccess(c, "question graded", result)
}

func (h *GradingHandler) getRun(c *fiber.Ctx) error {
	batchID := strings.TrimSpace(c.Params("batchId"))
	if batchID == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid batch identifier")
	}

	run, err := h.service.GetRun(c.UserContext(), batchID)
	if err != nil {
		if errors.Is(err, service.ErrGradingRunNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading run not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Str("batch_id", batchID).Msg("failed to load grading run")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading run")
	}

	return utils.SendSuccess(c, "grading run retrieved", run)
}

func (h *GradingHandler) listRuns(c *fiber.Ctx) error {
	limit, err := parseQueryInt(c, "limit")
	if err != nil || limit < 0 {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid limit")
	}

	filter := repository.GradingRunFilter{
		Subject:    strings.TrimSpace(c.Query("subject")),
		StudentRef: strings.TrimSpace(c.Query("student_ref")),
		Limit:      limit,
	}
	runs, err := h.service.ListRuns(c.UserContext(), filter)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list grading runs")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list grading runs")
	}

	return utils.OK(c, runs, "grading runs retrieved", fiber.Map{"count": len(runs)})
}

func (h *GradingHandler) checkSecurity(c *fiber.Ctx) error {
	var payload dto.SecurityCheckRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	verdict, err := h.service.CheckSecurity(c.UserContext(), payload)
	if err != nil {
		if isValidationError(err) {
			return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("security check failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "security check failed")
	}

	return utils.SendSuccess(c, "security check completed", verdict)
}

func (h *GradingHandler) gradingError(c *fiber.Ctx, err error, message string) error {
	var rejection *service.RejectionError
	switch {
	case errors.As(err, &rejection):
		return utils.Fail(c, fiber.StatusUnprocessableEntity, "submission rejected by security check", rejection.Verdict)
	case isValidationError(err):
		return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
	case errors.Is(err, service.ErrNoQuestions),
		errors.Is(err, grading.ErrEmptyBatch),
		errors.Is(err, grading.ErrAnswerCountMismatch):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case grading.IsAgentUnavailable(err):
		requestLogger(h.logger, c).Error().Err(err).Msg(message)
		return utils.SendError(c, fiber.StatusBadGateway, "grading agents unavailable")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg(message)
		return utils.SendError(c, fiber.StatusInternalServerError, message)
	}
}
