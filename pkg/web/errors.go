package web

import (
	"errors"

	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/services"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType("conflict").
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleError maps engine and store errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		return badRequest(c, err.Error())
	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution not found")
	case persistence.IsProfileNotFound(err):
		return notFound(c, "profile not found")
	case errors.Is(err, workflow.ErrUnknownWorkflowType):
		return badRequest(c, err.Error())
	case errors.Is(err, workflow.ErrExecutionFinished),
		errors.Is(err, workflow.ErrWorkflowMismatch),
		errors.Is(err, workflow.ErrAlreadyRunning):
		return conflict(c, err.Error())
	default:
		return internalError(c, err)
	}
}
