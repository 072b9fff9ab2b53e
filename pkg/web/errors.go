package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/aide/pkg/engine"
	"github.com/dukex/aide/pkg/graph"
)

// validationProblem carries the individual definition defects next to the
// problem detail.
type validationProblem struct {
	*problems.Problem
	Errors graph.ValidationErrors `json:"errors"`
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(fiber.StatusBadRequest).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

func status(c fiber.Ctx, code int, kind, detail string) error {
	problem := problems.NewStatusProblem(code).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(code).JSON(problem)
}

// handleEngineError maps engine failures onto problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	if verrs := engine.ValidationErrors(err); len(verrs) > 0 {
		problem := problems.NewStatusProblem(fiber.StatusBadRequest).
			WithInstance(c.Path()).
			WithType(engine.CodeInvalidDefinition).
			WithDetail(verrs.Error())

		return c.Status(fiber.StatusBadRequest).JSON(validationProblem{Problem: problem, Errors: verrs})
	}

	var engineErr *engine.Error
	if !errors.As(err, &engineErr) {
		return internalError(c, err)
	}

	switch engineErr.Code {
	case engine.CodeNotFound:
		return status(c, fiber.StatusNotFound, engineErr.Code, err.Error())
	case engine.CodeTriggerDisabled, engine.CodeConflict:
		return status(c, fiber.StatusConflict, engineErr.Code, err.Error())
	case engine.CodeInvalidRequest, engine.CodeInvalidDefinition:
		return status(c, fiber.StatusBadRequest, engineErr.Code, err.Error())
	default:
		return internalError(c, err)
	}
}
