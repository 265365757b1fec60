package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrDocumentAlreadyPersisted = errors.New("document is already persisted")
	ErrDocumentNotPersisted     = errors.New("document is not persisted yet")
)

// DocumentRepositoryImpl implements DocumentRepository.
// Hooks run inside the write transaction, so a hook failure leaves nothing behind.
type DocumentRepositoryImpl struct {
	*BaseRepository[models.Document, models.DocumentFilter]
	hooks []models.BeforeSaveHook
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &DocumentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Document, models.DocumentFilter](db),
	}
}

// Use registers hooks; call it during setup, before documents are written
func (r *DocumentRepositoryImpl) Use(hooks ...models.BeforeSaveHook) {
	r.hooks = append(r.hooks, hooks...)
}

func (r *DocumentRepositoryImpl) runHooks(ctx context.Context, op models.Operation, doc *models.Document) error {
	event := &models.LifecycleEvent{
		Operation:  op,
		Collection: doc.Collection,
		Record:     doc,
	}
	for _, hook := range r.hooks {
		if err := hook.BeforeSave(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// Create runs the create hooks and inserts the document
func (r *DocumentRepositoryImpl) Create(ctx context.Context, doc *models.Document) (err error) {
	if !doc.IsNew() {
		return ErrDocumentAlreadyPersisted
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				err = db.Commit().Error
			}
		}()
	}

	if err = r.runHooks(ContextWithTx(ctx, db), models.OperationCreate, doc); err != nil {
		return err
	}

	if doc.UUID == uuid.Nil {
		doc.UUID = uuid.New()
	}
	now := utils.UTCNow()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	if err = db.Create(doc).Error; err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// Update runs the update hooks and rewrites the document body
func (r *DocumentRepositoryImpl) Update(ctx context.Context, doc *models.Document) (err error) {
	if doc.IsNew() {
		return ErrDocumentNotPersisted
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if shouldCommit {
		defer func() {
			if err != nil {
				db.Rollback()
			} else {
				err = db.Commit().Error
			}
		}()
	}

	if err = r.runHooks(ContextWithTx(ctx, db), models.OperationUpdate, doc); err != nil {
		return err
	}

	doc.UpdatedAt = utils.UTCNow()
	if err = db.Model(doc).Select("Fields", "UpdatedAt").Updates(doc).Error; err != nil {
		return fmt.Errorf("failed to update document %d: %w", doc.ID, err)
	}
	return nil
}

// ByFilter retrieves documents based on filter criteria
func (r *DocumentRepositoryImpl) ByFilter(ctx context.Context, filter models.DocumentFilter, orderBy string, limit, offset int) ([]*models.Document, error) {
	query := r.applyFilter(r.getDB(ctx).Model(&models.Document{}), filter)
	if orderBy != "" {
		query = query.Order(orderBy)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	var rows []*models.Document
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of documents matching the filter
func (r *DocumentRepositoryImpl) Count(ctx context.Context, filter models.DocumentFilter) (int64, error) {
	var count int64
	if err := r.applyFilter(r.getDB(ctx).Model(&models.Document{}), filter).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (r *DocumentRepositoryImpl) applyFilter(db *gorm.DB, f models.DocumentFilter) *gorm.DB {
	if f.ID != nil {
		db = db.Where("id = ?", *f.ID)
	}
	if f.UUID != nil {
		db = db.Where("uuid = ?", *f.UUID)
	}
	if f.Collection != nil {
		db = db.Where("collection = ?", *f.Collection)
	}
	if f.CreatedAfter != nil {
		db = db.Where("created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		db = db.Where("created_at < ?", *f.CreatedBefore)
	}
	return db
}
