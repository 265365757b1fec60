package businessflow

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/amirphl/counterseq/app/dto"
	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/repository"
	"github.com/google/uuid"
)

// DocumentFlow stores documents through the host pipeline, so bound counters fire on create
type DocumentFlow interface {
	Create(ctx context.Context, req *dto.SaveDocumentRequest, metadata *ClientMetadata) (*dto.DocumentDTO, error)
	Update(ctx context.Context, req *dto.SaveDocumentRequest, metadata *ClientMetadata) (*dto.DocumentDTO, error)
	Get(ctx context.Context, collection, id string) (*dto.DocumentDTO, error)
}

type DocumentFlowImpl struct {
	repo repository.DocumentRepository
}

func NewDocumentFlow(repo repository.DocumentRepository) DocumentFlow {
	return &DocumentFlowImpl{repo: repo}
}

func (f *DocumentFlowImpl) Create(ctx context.Context, req *dto.SaveDocumentRequest, metadata *ClientMetadata) (*dto.DocumentDTO, error) {
	collection := strings.TrimSpace(req.Collection)
	if collection == "" {
		return nil, NewBusinessError(CodeValidationError, "Collection is required", ErrCollectionRequired)
	}

	doc := models.NewDocument(collection, req.Fields)
	if err := f.repo.Create(ctx, doc); err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to create document in %s", err, collection)
	}

	log.Printf("Document %s created in %s (request_id=%s)", doc.UUID, collection, requestID(metadata))
	return toDocumentDTO(doc), nil
}

// Update merges the submitted fields into the document; the increment field is never reallocated
func (f *DocumentFlowImpl) Update(ctx context.Context, req *dto.SaveDocumentRequest, metadata *ClientMetadata) (*dto.DocumentDTO, error) {
	doc, err := f.find(ctx, req.Collection, req.UUID)
	if err != nil {
		return nil, err
	}

	if doc.Fields == nil {
		doc.Fields = make(map[string]any, len(req.Fields))
	}
	for k, v := range req.Fields {
		doc.Fields[k] = v
	}
	if err := f.repo.Update(ctx, doc); err != nil {
		var be *BusinessError
		if errors.As(err, &be) {
			return nil, err
		}
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to update document %s", err, doc.UUID)
	}

	log.Printf("Document %s updated in %s (request_id=%s)", doc.UUID, doc.Collection, requestID(metadata))
	return toDocumentDTO(doc), nil
}

func (f *DocumentFlowImpl) Get(ctx context.Context, collection, id string) (*dto.DocumentDTO, error) {
	doc, err := f.find(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	return toDocumentDTO(doc), nil
}

func (f *DocumentFlowImpl) find(ctx context.Context, collection, id string) (*models.Document, error) {
	collection = strings.TrimSpace(collection)
	if collection == "" {
		return nil, NewBusinessError(CodeValidationError, "Collection is required", ErrCollectionRequired)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, NewBusinessError(CodeValidationError, "Invalid document id", err)
	}

	docs, err := f.repo.ByFilter(ctx, models.DocumentFilter{UUID: &parsed, Collection: &collection}, "", 1, 0)
	if err != nil {
		return nil, NewBusinessError(CodeStorageError, "Failed to load document", err)
	}
	if len(docs) == 0 {
		return nil, NewBusinessError(CodeNotFound, "Document not found", ErrDocumentNotFound)
	}
	return docs[0], nil
}

func requestID(metadata *ClientMetadata) string {
	if metadata == nil {
		return ""
	}
	return metadata.RequestID
}

func toDocumentDTO(doc *models.Document) *dto.DocumentDTO {
	return &dto.DocumentDTO{
		UUID:       doc.UUID.String(),
		Collection: doc.Collection,
		Fields:     doc.Fields,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}
}
