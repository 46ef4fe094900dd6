package web

import (
	"context"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/dukex/paperdigest/pkg/models"
	"github.com/dukex/paperdigest/pkg/persistence"
	"github.com/dukex/paperdigest/pkg/services"
	"github.com/dukex/paperdigest/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// Executor starts and resumes background runs; *workflow.Runner implements it.
type Executor interface {
	Start(ctx context.Context, workflowType string, initial workflow.Context) (*workflow.Task, error)
	Resume(ctx context.Context, executionID string) (*workflow.Task, error)
	Running() []string
	Registry() *workflow.Registry
}

type APIHandlers struct {
	store            persistence.Persistence
	executionService *services.Execution
	profileService   *services.Profile
	executor         Executor
	validator        *validator.Validate
}

func NewAPIHandlers(
	store persistence.Persistence,
	executionService *services.Execution,
	profileService *services.Profile,
	executor Executor,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		store:            store,
		executionService: executionService,
		profileService:   profileService,
		executor:         executor,
		validator:        validator,
	}
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	initial := workflow.Context{}
	initial.Merge(req.Context)

	if req.Force {
		initial[workflow.KeyForce] = true
	}

	if req.AnnouncementDate != "" {
		initial[workflow.KeyAnnouncementDate] = req.AnnouncementDate
	}

	if len(req.UserIDs) > 0 {
		initial[workflow.KeyUserIDs] = req.UserIDs
	}

	if len(req.Categories) > 0 {
		initial[workflow.KeyCategories] = req.Categories
	}

	initial["triggered_by"] = "api"

	task, err := h.executor.Start(c.Context(), req.WorkflowType, initial)
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID:  task.ID(),
		WorkflowType: req.WorkflowType,
		Status:       string(models.ExecutionStatusRunning),
	})
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	limit := services.DefaultListLimit

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return badRequest(c, "limit must be an integer")
		}

		limit = parsed
	}

	executions, err := h.executionService.ListExecutions(c.Context(), limit)
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(ListExecutionsResponse{Executions: executions, Limit: limit})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")

	details, err := h.executionService.GetExecution(c.Context(), id, c.Query("summary") == "true")
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(ExecutionResponse{
		Execution: details.Execution,
		Steps:     details.Steps,
		Running:   slices.Contains(h.executor.Running(), id),
		Summary:   details.Summary,
	})
}

func (h *APIHandlers) ResumeExecution(c fiber.Ctx) error {
	task, err := h.executor.Resume(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(StartExecutionResponse{
		ExecutionID: task.ID(),
		Status:      string(models.ExecutionStatusRunning),
	})
}

func (h *APIHandlers) ListWorkflowTypes(c fiber.Ctx) error {
	registry := h.executor.Registry()
	types := registry.Types()

	out := make([]fiber.Map, 0, len(types))

	for _, t := range types {
		def, err := registry.Lookup(t)
		if err != nil {
			return internalError(c, err)
		}

		out = append(out, fiber.Map{"type": t, "steps": def.StepNames()})
	}

	return c.JSON(out)
}

func (h *APIHandlers) GetProfile(c fiber.Ctx) error {
	profile, err := h.profileService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(profile)
}

func (h *APIHandlers) PutProfile(c fiber.Ctx) error {
	var req ProfileRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	profile, err := h.profileService.Save(c.Context(), &models.UserProfile{
		ID:         c.Params("id"),
		Email:      req.Email,
		Name:       req.Name,
		Interests:  req.Interests,
		Categories: req.Categories,
		MinScore:   req.MinScore,
		MaxPapers:  req.MaxPapers,
		Active:     req.Active == nil || *req.Active,
	})
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(profile)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status, code := "healthy", http.StatusOK

	if err := h.store.HealthCheck(c.Context()); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	return c.Status(code).JSON(HealthResponse{
		Status:    status,
		Running:   len(h.executor.Running()),
		Timestamp: time.Now().UTC(),
	})
}
