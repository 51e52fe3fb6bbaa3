package repository

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/icrrus-api/internal/models"
)

func seedRequest(t *testing.T, store *MemoryStore, tpl models.TemplateID, program *string) *models.BookingRequest {
	t.Helper()
	start := time.Now().Add(time.Hour)
	req := &models.BookingRequest{
		RequesterID:  "requester-1",
		ResourceType: models.ResourceVenue,
		ResourceName: "Hall",
		StartsAt:     start,
		EndsAt:       start.Add(time.Hour),
		TemplateID:   tpl,
		Program:      program,
	}
	require.NoError(t, store.Create(context.Background(), req))
	return req
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	req := seedRequest(t, store, models.TemplateAffiliateVenue, nil)

	got, err := store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	got.Status = models.BookingStatusApproved

	again, err := store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusPending, again.Status)

	_, err = store.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryStoreTransitionIsCompareAndSwap(t *testing.T) {
	store := NewMemoryStore()
	req := seedRequest(t, store, models.TemplateAffiliateVenue, nil)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Transition(context.Background(), models.TransitionParams{
				RequestID: req.ID, ExpectedStage: 0, NewStatus: models.BookingStatusPending, NewStage: 1, At: time.Now(),
				Record: &models.ApprovalRecord{StageIndex: 0, Decision: models.DecisionApproved},
			})
			if err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)

	records, err := store.ListRecords(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMemoryStoreWithdrawal(t *testing.T) {
	store := NewMemoryStore()
	req := seedRequest(t, store, models.TemplateGuestVenue, nil)
	at := time.Now().UTC()

	require.NoError(t, store.Transition(context.Background(), models.TransitionParams{
		RequestID: req.ID, NewStatus: models.BookingStatusWithdrawn, At: at, MarkWithdrawal: true,
	}))
	got, err := store.GetByID(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingStatusWithdrawn, got.Status)
	require.NotNil(t, got.WithdrawnAt)
	assert.Equal(t, at, *got.WithdrawnAt)

	err = store.Transition(context.Background(), models.TransitionParams{RequestID: req.ID, NewStatus: models.BookingStatusWithdrawn, At: at})
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestMemoryStoreListAndCounts(t *testing.T) {
	store := NewMemoryStore()
	seca := "SECA"
	seedRequest(t, store, models.TemplateAffiliateVenue, nil)
	seedRequest(t, store, models.TemplateAffiliateVenue, nil)
	seedRequest(t, store, models.TemplateStudentComputerLab, &seca)
	done := seedRequest(t, store, models.TemplateGuestVenue, nil)
	require.NoError(t, store.Transition(context.Background(), models.TransitionParams{
		RequestID: done.ID, NewStatus: models.BookingStatusRejected, At: time.Now(),
		Record: &models.ApprovalRecord{StageIndex: 0, Decision: models.DecisionRejected},
	}))

	list, total, err := store.List(context.Background(), models.BookingFilter{Status: []models.BookingStatus{models.BookingStatusPending}, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, list, 2)

	counts, err := store.CountPendingByStage(context.Background())
	require.NoError(t, err)
	byTemplate := map[models.TemplateID]int{}
	for _, c := range counts {
		byTemplate[c.TemplateID] += c.Total
		if c.TemplateID == models.TemplateStudentComputerLab {
			require.NotNil(t, c.Program)
			assert.Equal(t, "SECA", *c.Program)
		}
	}
	assert.Equal(t, 2, byTemplate[models.TemplateAffiliateVenue])
	assert.Equal(t, 1, byTemplate[models.TemplateStudentComputerLab])
	assert.Zero(t, byTemplate[models.TemplateGuestVenue])
}

func TestMemoryStoreAudit(t *testing.T) {
	store := NewMemoryStore()
	id := "req-1"
	require.NoError(t, store.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionBookingSubmit, Resource: "booking_request", ResourceID: &id}))
	require.NoError(t, store.CreateAuditLog(context.Background(), &models.AuditLog{Action: models.AuditActionArtifactUpload, Resource: "artifact"}))

	logs, err := store.ListByResource(context.Background(), "booking_request", id)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionBookingSubmit, logs[0].Action)
}
