package handlers

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/amirphl/counterseq/app/dto"
	businessflow "github.com/amirphl/counterseq/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// CounterHandlerInterface defines handler methods for counter administration
type CounterHandlerInterface interface {
	ListCounters(c fiber.Ctx) error
	GetCurrent(c fiber.Ctx) error
	AllocateNext(c fiber.Ctx) error
	ResetCounters(c fiber.Ctx) error
	ExportCounters(c fiber.Ctx) error
}

// CounterHandler implements counter admin endpoints
type CounterHandler struct {
	flow      businessflow.CounterAdminFlow
	validator *validator.Validate
}

func NewCounterHandler(flow businessflow.CounterAdminFlow) CounterHandlerInterface {
	return &CounterHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *CounterHandler) ErrorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: code, Details: details}})
}

func (h *CounterHandler) SuccessResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

// ListCounters returns every counter of a scope
// @Summary List Counters
// @Tags Counters
// @Produce json
// @Param scope path string true "Counter scope"
// @Success 200 {object} dto.APIResponse{data=dto.ListCountersResponse}
// @Failure 500 {object} dto.APIResponse "List failed"
// @Router /api/v1/counters/{scope} [get]
func (h *CounterHandler) ListCounters(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/counters/:scope")
	defer cancel()

	res, err := h.flow.List(ctx, c.Params("scope"))
	if err != nil {
		return h.flowError(c, "List counters failed", "COUNTER_LIST_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Counters retrieved", res)
}

// GetCurrent returns the counter for one key; the key is passed as a JSON object in the reference query parameter
// @Summary Get Counter
// @Tags Counters
// @Produce json
// @Param scope path string true "Counter scope"
// @Param reference query string false "Reference key as JSON object (alias: ref)"
// @Success 200 {object} dto.APIResponse{data=dto.CounterDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Router /api/v1/counters/{scope}/current [get]
func (h *CounterHandler) GetCurrent(c fiber.Ctx) error {
	req := dto.CounterKeyRequest{ScopeID: c.Params("scope")}
	raw := c.Query("reference")
	if raw == "" {
		raw = c.Query("ref")
	}
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Reference); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid reference", "INVALID_REFERENCE", err.Error())
		}
	}
	if errs := h.validate(&req); errs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", errs)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/counters/:scope/current")
	defer cancel()

	res, err := h.flow.Current(ctx, &req)
	if err != nil {
		return h.flowError(c, "Read counter failed", "COUNTER_READ_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Counter retrieved", res)
}

// AllocateNext allocates the next value of a counter
// @Summary Allocate Counter Value
// @Tags Counters
// @Accept json
// @Produce json
// @Param scope path string true "Counter scope"
// @Param request body dto.CounterKeyRequest false "Reference key"
// @Success 200 {object} dto.APIResponse{data=dto.AllocateCounterResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Allocation failed"
// @Router /api/v1/counters/{scope}/next [post]
func (h *CounterHandler) AllocateNext(c fiber.Ctx) error {
	var req dto.CounterKeyRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	req.ScopeID = c.Params("scope")
	if errs := h.validate(&req); errs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", errs)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/counters/:scope/next")
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))
	res, err := h.flow.Next(ctx, &req, metadata)
	if err != nil {
		return h.flowError(c, "Allocation failed", "COUNTER_ALLOCATE_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Counter value allocated", res)
}

// ResetCounters resets the counters of a scope matching the given reference fields
// @Summary Reset Counters
// @Description Without a reference every counter of the scope is reset; with one, counters whose reference contains all given pairs are reset
// @Tags Counters
// @Accept json
// @Produce json
// @Param scope path string true "Counter scope"
// @Param request body dto.ResetCounterRequest false "Reference fields to match"
// @Success 200 {object} dto.APIResponse{data=dto.ResetCounterResponse}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Reset failed"
// @Router /api/v1/counters/{scope}/reset [post]
func (h *CounterHandler) ResetCounters(c fiber.Ctx) error {
	var req dto.ResetCounterRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
		}
	}
	req.ScopeID = c.Params("scope")
	if errs := h.validate(&req); errs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", errs)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/counters/:scope/reset")
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))
	res, err := h.flow.Reset(ctx, &req, metadata)
	if err != nil {
		return h.flowError(c, "Reset failed", "COUNTER_RESET_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Counters reset", res)
}

// ExportCounters downloads the counters of a scope as an Excel workbook
// @Summary Export Counters
// @Tags Counters
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param scope path string true "Counter scope"
// @Success 200 {file} file
// @Failure 500 {object} dto.APIResponse "Export failed"
// @Router /api/v1/counters/{scope}/export [get]
func (h *CounterHandler) ExportCounters(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/counters/:scope/export")
	defer cancel()

	filename, data, err := h.flow.Export(ctx, c.Params("scope"))
	if err != nil {
		return h.flowError(c, "Export failed", "COUNTER_EXPORT_FAILED", err)
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return c.Status(fiber.StatusOK).Send(data)
}

func (h *CounterHandler) validate(req any) []string {
	return validationMessages(h.validator.Struct(req))
}

func (h *CounterHandler) flowError(c fiber.Ctx, message, code string, err error) error {
	if businessflow.IsScopeRequired(err) || businessflow.IsValidationError(err) {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Scope is required", "SCOPE_REQUIRED", nil)
	}
	log.Printf("%s: %v", message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}
