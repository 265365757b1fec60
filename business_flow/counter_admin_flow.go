package businessflow

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/amirphl/counterseq/app/dto"
	"github.com/amirphl/counterseq/models"
	"github.com/amirphl/counterseq/repository"
	"github.com/xuri/excelize/v2"
)

// CounterAdminFlow handles operator access to counters
type CounterAdminFlow interface {
	List(ctx context.Context, scopeID string) (*dto.ListCountersResponse, error)
	Current(ctx context.Context, req *dto.CounterKeyRequest) (*dto.CounterDTO, error)
	Next(ctx context.Context, req *dto.CounterKeyRequest, metadata *ClientMetadata) (*dto.AllocateCounterResponse, error)
	Reset(ctx context.Context, req *dto.ResetCounterRequest, metadata *ClientMetadata) (*dto.ResetCounterResponse, error)
	Export(ctx context.Context, scopeID string) (string, []byte, error)
}

type CounterAdminFlowImpl struct {
	store repository.CounterRepository
}

func NewCounterAdminFlow(store repository.CounterRepository) CounterAdminFlow {
	return &CounterAdminFlowImpl{store: store}
}

func normalizeScope(scopeID string) (string, error) {
	scopeID = strings.TrimSpace(scopeID)
	if scopeID == "" {
		return "", NewBusinessError(CodeValidationError, "Scope is required", ErrScopeRequired)
	}
	return scopeID, nil
}

func (f *CounterAdminFlowImpl) List(ctx context.Context, scopeID string) (*dto.ListCountersResponse, error) {
	scopeID, err := normalizeScope(scopeID)
	if err != nil {
		return nil, err
	}
	rows, err := f.store.ListByScope(ctx, scopeID)
	if err != nil {
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to list counters of %s", err, scopeID)
	}
	out := &dto.ListCountersResponse{
		ScopeID:  scopeID,
		Counters: make([]*dto.CounterDTO, 0, len(rows)),
		Total:    len(rows),
	}
	for _, row := range rows {
		out.Counters = append(out.Counters, ToCounterDTO(row))
	}
	return out, nil
}

// Current returns the counter for an exact key; a key that was never allocated reads as 0
func (f *CounterAdminFlowImpl) Current(ctx context.Context, req *dto.CounterKeyRequest) (*dto.CounterDTO, error) {
	scopeID, err := normalizeScope(req.ScopeID)
	if err != nil {
		return nil, err
	}
	ref := models.ReferenceKey(req.Reference)
	row, err := f.store.Current(ctx, scopeID, ref)
	if err != nil {
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to read counter of %s", err, scopeID)
	}
	if row == nil {
		return &dto.CounterDTO{ScopeID: scopeID, Reference: ref, Seq: 0}, nil
	}
	return ToCounterDTO(row), nil
}

// Next allocates a value outside of any record insert, e.g. for numbers handed out by hand
func (f *CounterAdminFlowImpl) Next(ctx context.Context, req *dto.CounterKeyRequest, metadata *ClientMetadata) (*dto.AllocateCounterResponse, error) {
	scopeID, err := normalizeScope(req.ScopeID)
	if err != nil {
		return nil, err
	}
	ref := models.ReferenceKey(req.Reference)
	value, err := f.store.Allocate(ctx, scopeID, ref)
	if err != nil {
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to allocate %s", err, scopeID)
	}
	if metadata != nil {
		log.Printf("Counter %s%s allocated %d (ip=%s request_id=%s)", scopeID, describeReference(ref), value, metadata.IPAddress, metadata.RequestID)
	}
	return &dto.AllocateCounterResponse{ScopeID: scopeID, Reference: ref, Seq: value}, nil
}

func (f *CounterAdminFlowImpl) Reset(ctx context.Context, req *dto.ResetCounterRequest, metadata *ClientMetadata) (*dto.ResetCounterResponse, error) {
	scopeID, err := normalizeScope(req.ScopeID)
	if err != nil {
		return nil, err
	}
	ref := models.ReferenceKey(req.Reference)
	n, err := f.store.Reset(ctx, scopeID, ref)
	if err != nil {
		return nil, NewBusinessErrorf(CodeStorageError, "Failed to reset %s", err, scopeID)
	}
	if metadata != nil {
		log.Printf("Counter %s%s reset, %d counters affected (ip=%s request_id=%s)", scopeID, describeReference(ref), n, metadata.IPAddress, metadata.RequestID)
	}
	return &dto.ResetCounterResponse{ScopeID: scopeID, Reset: n}, nil
}

// Export writes the counters of a scope to an xlsx workbook, one column per reference field
func (f *CounterAdminFlowImpl) Export(ctx context.Context, scopeID string) (string, []byte, error) {
	scopeID, err := normalizeScope(scopeID)
	if err != nil {
		return "", nil, err
	}
	rows, err := f.store.ListByScope(ctx, scopeID)
	if err != nil {
		return "", nil, NewBusinessErrorf(CodeStorageError, "Failed to list counters of %s", err, scopeID)
	}

	fieldSet := make(map[string]struct{})
	for _, row := range rows {
		for field := range row.Reference {
			fieldSet[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	sheet := sanitizeSheetName(scopeID)
	if err := xl.SetSheetName(xl.GetSheetName(0), sheet); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to name sheet", err)
	}

	header := make([]any, 0, len(fields)+3)
	header = append(header, "scope_id")
	for _, field := range fields {
		header = append(header, field)
	}
	header = append(header, "seq", "updated_at")
	if err := xl.SetSheetRow(sheet, "A1", &header); err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write header", err)
	}

	for i, row := range rows {
		record := make([]any, 0, len(header))
		record = append(record, row.ScopeID)
		for _, field := range fields {
			record = append(record, row.Reference[field])
		}
		updated := ""
		if !row.UpdatedAt.IsZero() {
			updated = row.UpdatedAt.UTC().Format(time.RFC3339)
		}
		record = append(record, row.Value, updated)

		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := xl.SetSheetRow(sheet, cell, &record); err != nil {
			return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write row", err)
		}
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	return fmt.Sprintf("counters_%s.xlsx", sheet), buf.Bytes(), nil
}

func describeReference(ref models.ReferenceKey) string {
	if ref.IsGlobal() {
		return ""
	}
	return " " + ref.Canonical()
}

func sanitizeSheetName(name string) string {
	// Excel sheet names cannot contain: : \\ / ? * [ ] and must be <= 31 characters
	replacer := strings.NewReplacer(":", "_", "\\", "_", "/", "_", "?", "_", "*", "_", "[", "_", "]", "_")
	safe := strings.TrimSpace(replacer.Replace(name))
	if runes := []rune(safe); len(runes) > 31 {
		safe = strings.TrimSpace(string(runes[:31]))
	}
	if safe == "" {
		return "Sheet"
	}
	return safe
}
