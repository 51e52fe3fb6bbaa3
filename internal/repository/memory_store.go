package repository

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/noah-isme/icrrus-api/internal/models"
)

// MemoryStore keeps booking requests, approval trails and audit logs in process.
// It mirrors BookingRepository semantics, including the compare-and-swap in
// Transition, and is used when no database is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.BookingRequest
	records  map[string][]models.ApprovalRecord
	audit    []models.AuditLog
	now      func() time.Time
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.BookingRequest),
		records:  make(map[string][]models.ApprovalRecord),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of req.
func (s *MemoryStore) Create(_ context.Context, req *models.BookingRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareBooking(req, s.now())
	s.requests[req.ID] = cloneBooking(*req)
	return nil
}

// GetByID returns a copy of the request or sql.ErrNoRows.
func (s *MemoryStore) GetByID(_ context.Context, id string) (*models.BookingRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	out := cloneBooking(req)
	return &out, nil
}

// List filters, sorts newest first and pages.
func (s *MemoryStore) List(_ context.Context, filter models.BookingFilter) ([]models.BookingRequest, int, error) {
	s.mu.RLock()
	matched := make([]models.BookingRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if matchesFilter(req, filter) {
			matched = append(matched, cloneBooking(req))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit, offset := normalisePage(filter.Limit, filter.Offset)
	if offset >= total {
		return []models.BookingRequest{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func matchesFilter(req models.BookingRequest, filter models.BookingFilter) bool {
	if len(filter.Status) > 0 {
		found := false
		for _, status := range filter.Status {
			if req.Status == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.TemplateID != "" && req.TemplateID != filter.TemplateID {
		return false
	}
	if filter.Stage != nil && req.CurrentStage != *filter.Stage {
		return false
	}
	if filter.RequesterID != "" && req.RequesterID != filter.RequesterID {
		return false
	}
	return true
}

// ListRecords returns the approval trail ordered by stage.
func (s *MemoryStore) ListRecords(_ context.Context, requestID string) ([]models.ApprovalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[requestID]
	out := make([]models.ApprovalRecord, len(records))
	copy(out, records)
	return out, nil
}

// Transition applies the compare-and-swap under the store lock.
func (s *MemoryStore) Transition(_ context.Context, params models.TransitionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[params.RequestID]
	if !ok || req.Status != models.BookingStatusPending || req.CurrentStage != params.ExpectedStage {
		return sql.ErrNoRows
	}
	if params.Record != nil {
		for _, existing := range s.records[params.RequestID] {
			if existing.StageIndex == params.Record.StageIndex {
				return sql.ErrNoRows
			}
		}
		prepareRecord(params.Record, params.RequestID, params.At)
		s.records[params.RequestID] = append(s.records[params.RequestID], *params.Record)
	}

	req.Status = params.NewStatus
	req.CurrentStage = params.NewStage
	req.UpdatedAt = params.At
	if params.MarkWithdrawal {
		at := params.At
		req.WithdrawnAt = &at
	}
	s.requests[params.RequestID] = req
	return nil
}

// CountPendingByStage groups pending requests by template, stage and program.
func (s *MemoryStore) CountPendingByStage(_ context.Context) ([]models.StageCount, error) {
	type key struct {
		template models.TemplateID
		stage    int
		program  string
		scoped   bool
	}
	s.mu.RLock()
	totals := make(map[key]int)
	for _, req := range s.requests {
		if req.Status != models.BookingStatusPending {
			continue
		}
		k := key{template: req.TemplateID, stage: req.CurrentStage}
		if req.Program != nil {
			k.program, k.scoped = *req.Program, true
		}
		totals[k]++
	}
	s.mu.RUnlock()

	counts := make([]models.StageCount, 0, len(totals))
	for k, total := range totals {
		count := models.StageCount{TemplateID: k.template, StageIndex: k.stage, Total: total}
		if k.scoped {
			program := k.program
			count.Program = &program
		}
		counts = append(counts, count)
	}
	return counts, nil
}

// CreateAuditLog appends an audit entry.
func (s *MemoryStore) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prepareAudit(log)
	s.audit = append(s.audit, *log)
	return nil
}

// ListByResource returns the audit trail of one resource, oldest first.
func (s *MemoryStore) ListByResource(_ context.Context, resource, resourceID string) ([]models.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.AuditLog, 0)
	for _, log := range s.audit {
		if log.Resource == resource && log.ResourceID != nil && *log.ResourceID == resourceID {
			out = append(out, log)
		}
	}
	return out, nil
}

func cloneBooking(req models.BookingRequest) models.BookingRequest {
	out := req
	if req.Program != nil {
		v := *req.Program
		out.Program = &v
	}
	if req.ArtifactRef != nil {
		v := *req.ArtifactRef
		out.ArtifactRef = &v
	}
	if req.WithdrawnAt != nil {
		v := *req.WithdrawnAt
		out.WithdrawnAt = &v
	}
	return out
}
