// Package web exposes the engine over HTTP.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/runstate"
	"github.com/dukex/aide/pkg/triggers"
)

// Engine is the part of engine.Engine the handlers call.
type Engine interface {
	HealthCheck(ctx context.Context) error
	SaveDefinition(ctx context.Context, def *models.Definition) (*models.Definition, triggers.Changes, error)
	Definition(ctx context.Context, id string) (*models.Definition, error)
	Triggers(ctx context.Context, definitionID string) ([]*models.TriggerEntry, error)
	SetTriggerEnabled(ctx context.Context, triggerID string, enabled bool) (*models.TriggerEntry, error)
	Fire(ctx context.Context, triggerID string, payload any) (string, error)
	StartManual(ctx context.Context, definitionID, nodeID string, payload any) (string, error)
	FireWebhook(ctx context.Context, path string, payload any) ([]string, error)
	FireEvent(ctx context.Context, source, eventType string, payload any) ([]string, error)
	Cancel(ctx context.Context, runID, reason string) error
	Status(ctx context.Context, runID string) (*runstate.Report, error)
}

type APIHandlers struct {
	engine    Engine
	validator *validator.Validate
	logger    *slog.Logger
}

func NewAPIHandlers(engine Engine, validator *validator.Validate, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		engine:    engine,
		validator: validator,
		logger:    logger.With("module", "web"),
	}
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.engine.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"store": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) SaveWorkflow(c fiber.Ctx) error {
	var def models.Definition
	if err := c.Bind().JSON(&def); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	saved, changes, err := h.engine.SaveDefinition(c.Context(), &def)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(SaveWorkflowResponse{
		Workflow: saved,
		Triggers: newTriggerChanges(changes),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	def, err := h.engine.Definition(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) GetWorkflowTriggers(c fiber.Ctx) error {
	entries, err := h.engine.Triggers(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	if entries == nil {
		entries = []*models.TriggerEntry{}
	}

	return c.JSON(entries)
}

func (h *APIHandlers) StartRun(c fiber.Ctx) error {
	var req StartRunRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	runID, err := h.engine.StartManual(c.Context(), c.Params("id"), req.NodeID, req.Payload)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunResponse{RunID: runID})
}

func (h *APIHandlers) FireTrigger(c fiber.Ctx) error {
	var req FireRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	runID, err := h.engine.Fire(c.Context(), c.Params("id"), req.Payload)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunResponse{RunID: runID})
}

func (h *APIHandlers) SetTrigger(c fiber.Ctx) error {
	var req SetTriggerRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	entry, err := h.engine.SetTriggerEnabled(c.Context(), c.Params("id"), *req.Enabled)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(entry)
}

func (h *APIHandlers) GetRun(c fiber.Ctx) error {
	report, err := h.engine.Status(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(report)
}

func (h *APIHandlers) CancelRun(c fiber.Ctx) error {
	var req CancelRequest
	if err := h.bind(c, &req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.engine.Cancel(c.Context(), c.Params("id"), req.Reason); err != nil {
		return handleEngineError(c, err)
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// Webhook fires the webhook triggers registered on the request path. The
// payload carries the decoded body with the request's query and headers.
func (h *APIHandlers) Webhook(c fiber.Ctx) error {
	payload := map[string]any{
		"body":    decodeBody(c.Body()),
		"query":   c.Queries(),
		"headers": c.GetReqHeaders(),
	}

	runIDs, err := h.engine.FireWebhook(c.Context(), c.Path(), payload)
	if err != nil {
		return handleEngineError(c, err)
	}

	h.logger.InfoContext(c.Context(), "webhook received", "path", c.Path(), "runs", len(runIDs))

	return c.Status(fiber.StatusAccepted).JSON(RunsResponse{RunIDs: runIDs})
}

func (h *APIHandlers) IntegrationEvent(c fiber.Ctx) error {
	runIDs, err := h.engine.FireEvent(c.Context(), c.Params("source"), c.Params("type"), decodeBody(c.Body()))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(RunsResponse{RunIDs: runIDs})
}

// bind decodes an optional JSON body and validates it.
func (h *APIHandlers) bind(c fiber.Ctx, req any) error {
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(req); err != nil {
			return err
		}
	}

	return h.validator.Struct(req)
}

func decodeBody(body []byte) any {
	if len(body) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}

	return v
}
