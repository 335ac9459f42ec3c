package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// PromptHandler manages per-subject grading prompts.
type PromptHandler struct {
	service service.GradingPromptService
	logger  zerolog.Logger
}

// NewPromptHandler constructs the handler.
func NewPromptHandler(service service.GradingPromptService, logger zerolog.Logger) *PromptHandler {
	return &PromptHandler{
		service: service,
		logger:  logger.With().Str("component", "prompt_handler").Logger(),
	}
}

// Register attaches prompt endpoints. Writes are wrapped by the supplied guard.
func (h *PromptHandler) Register(router fiber.Router, writeGuard func(fiber.Handler) fiber.Handler) {
	if writeGuard == nil {
		writeGuard = func(handler fiber.Handler) fiber.Handler { return handler }
	}

	router.Get("/:subject", h.current)
	router.Get("/:subject/history", h.history)
	router.Put("/:subject", writeGuard(h.update))
}

func (h *PromptHandler) current(c *fiber.Ctx) error {
	prompt, err := h.service.Current(c.UserContext(), c.Params("subject"))
	if err != nil {
		if errors.Is(err, service.ErrPromptNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, "grading prompt not found")
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load grading prompt")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading prompt")
	}

	return utils.SendSuccess(c, "grading prompt retrieved", prompt)
}

func (h *PromptHandler) history(c *fiber.Ctx) error {
	prompts, err := h.service.History(c.UserContext(), c.Params("subject"))
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load prompt history")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load prompt history")
	}

	return utils.OK(c, prompts, "prompt history retrieved", fiber.Map{"count": len(prompts)})
}

func (h *PromptHandler) update(c *fiber.Ctx) error {
	var payload dto.PromptUpdateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid payload")
	}

	prompt, err := h.service.Update(c.UserContext(), c.Params("subject"), payload, service.PromptActor{ID: userIDFromContext(c)})
	if err != nil {
		switch {
		case isValidationError(err):
			return utils.Fail(c, fiber.StatusBadRequest, "validation failed", validationDetails(err))
		case errors.Is(err, service.ErrPromptNotFound):
			return utils.SendError(c, fiber.StatusBadRequest, "invalid subject")
		default:
			requestLogger(h.logger, c).Error().Err(err).Msg("failed to update grading prompt")
			return utils.SendError(c, fiber.StatusInternalServerError, "failed to update grading prompt")
		}
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "grading prompt updated", prompt)
}
