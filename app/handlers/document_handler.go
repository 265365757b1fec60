package handlers

import (
	"log"

	"github.com/amirphl/counterseq/app/dto"
	businessflow "github.com/amirphl/counterseq/business_flow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

// DocumentHandlerInterface defines handler methods for document writes
type DocumentHandlerInterface interface {
	CreateDocument(c fiber.Ctx) error
	UpdateDocument(c fiber.Ctx) error
	GetDocument(c fiber.Ctx) error
}

type DocumentHandler struct {
	flow      businessflow.DocumentFlow
	validator *validator.Validate
}

func NewDocumentHandler(flow businessflow.DocumentFlow) DocumentHandlerInterface {
	return &DocumentHandler{
		flow:      flow,
		validator: validator.New(),
	}
}

func (h *DocumentHandler) ErrorResponse(c fiber.Ctx, status int, message, code string, details any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: false, Message: message, Error: dto.ErrorDetail{Code: code, Details: details}})
}

func (h *DocumentHandler) SuccessResponse(c fiber.Ctx, status int, message string, data any) error {
	return c.Status(status).JSON(dto.APIResponse{Success: true, Message: message, Data: data})
}

// CreateDocument stores a new document; a counter bound to the collection assigns its increment field
// @Summary Create Document
// @Tags Documents
// @Accept json
// @Produce json
// @Param collection path string true "Collection name"
// @Param request body dto.SaveDocumentRequest true "Document fields"
// @Success 201 {object} dto.APIResponse{data=dto.DocumentDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 500 {object} dto.APIResponse "Create failed"
// @Router /api/v1/documents/{collection} [post]
func (h *DocumentHandler) CreateDocument(c fiber.Ctx) error {
	var req dto.SaveDocumentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.Collection = c.Params("collection")
	if errs := h.validate(&req); errs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", errs)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/documents/:collection")
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))
	res, err := h.flow.Create(ctx, &req, metadata)
	if err != nil {
		return h.flowError(c, "Create document failed", "DOCUMENT_CREATE_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusCreated, "Document created", res)
}

// UpdateDocument merges fields into an existing document; counters are not reallocated
// @Summary Update Document
// @Tags Documents
// @Accept json
// @Produce json
// @Param collection path string true "Collection name"
// @Param id path string true "Document UUID"
// @Param request body dto.SaveDocumentRequest true "Document fields"
// @Success 200 {object} dto.APIResponse{data=dto.DocumentDTO}
// @Failure 400 {object} dto.APIResponse "Validation error"
// @Failure 404 {object} dto.APIResponse "Document not found"
// @Router /api/v1/documents/{collection}/{id} [put]
func (h *DocumentHandler) UpdateDocument(c fiber.Ctx) error {
	var req dto.SaveDocumentRequest
	if err := c.Bind().JSON(&req); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", "INVALID_REQUEST", err.Error())
	}
	req.Collection = c.Params("collection")
	req.UUID = c.Params("id")
	if errs := h.validate(&req); errs != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", "VALIDATION_ERROR", errs)
	}

	ctx, cancel := createRequestContext(c, "/api/v1/documents/:collection/:id")
	defer cancel()

	metadata := businessflow.NewClientMetadata(c.IP(), c.Get("User-Agent"))
	metadata.SetRequestID(c.Get("X-Request-ID"))
	res, err := h.flow.Update(ctx, &req, metadata)
	if err != nil {
		return h.flowError(c, "Update document failed", "DOCUMENT_UPDATE_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Document updated", res)
}

// GetDocument returns one document
// @Summary Get Document
// @Tags Documents
// @Produce json
// @Param collection path string true "Collection name"
// @Param id path string true "Document UUID"
// @Success 200 {object} dto.APIResponse{data=dto.DocumentDTO}
// @Failure 404 {object} dto.APIResponse "Document not found"
// @Router /api/v1/documents/{collection}/{id} [get]
func (h *DocumentHandler) GetDocument(c fiber.Ctx) error {
	ctx, cancel := createRequestContext(c, "/api/v1/documents/:collection/:id")
	defer cancel()

	res, err := h.flow.Get(ctx, c.Params("collection"), c.Params("id"))
	if err != nil {
		return h.flowError(c, "Get document failed", "DOCUMENT_GET_FAILED", err)
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Document retrieved", res)
}

func (h *DocumentHandler) validate(req any) []string {
	return validationMessages(h.validator.Struct(req))
}

func (h *DocumentHandler) flowError(c fiber.Ctx, message, code string, err error) error {
	switch {
	case businessflow.IsNotFound(err):
		return h.ErrorResponse(c, fiber.StatusNotFound, "Document not found", "DOCUMENT_NOT_FOUND", nil)
	case businessflow.IsValidationError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "VALIDATION_ERROR", nil)
	case businessflow.IsSchemaError(err):
		return h.ErrorResponse(c, fiber.StatusBadRequest, err.Error(), "SCHEMA_ERROR", nil)
	}
	log.Printf("%s: %v", message, err)
	return h.ErrorResponse(c, fiber.StatusInternalServerError, message, code, nil)
}
