package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/icrrus-api/internal/models"
)

func TestBadgeServiceScopesProgramChairs(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	studentSECA := models.Actor{UserID: "student-9", Role: models.RoleStudent, Program: models.ProgramSECA}
	_, err := f.svc.Submit(ctx, studentCTHM, labRequest(models.ResourceSpecialtyRoom))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, studentCTHM, labRequest(models.ResourceScienceLab))
	require.NoError(t, err)
	_, err = f.svc.Submit(ctx, studentSECA, labRequest(models.ResourceComputerLab))
	require.NoError(t, err)

	all, err := f.badges.PendingCountFor(ctx, models.RoleProgramChair)
	require.NoError(t, err)
	assert.Equal(t, 3, all)

	cthm, err := f.badges.PendingCountForActor(ctx, chairCTHM)
	require.NoError(t, err)
	assert.Equal(t, 2, cthm)

	seca, err := f.badges.PendingCountForActor(ctx, chairSECA)
	require.NoError(t, err)
	assert.Equal(t, 1, seca)

	queue, total, err := f.badges.Queue(ctx, chairSECA, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, queue, 1)
	assert.Equal(t, models.TemplateStudentComputerLab, queue[0].TemplateID)
	require.NotNil(t, queue[0].NextApprover)
	assert.Equal(t, "Program Chair", *queue[0].NextApprover)
}

func TestBadgeServiceSuperAdminSeesEveryRole(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)
	booking, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, booking.ID, endorser, approve())
	require.NoError(t, err)

	badge, err := f.badges.Badges(ctx, superAdmin)
	require.NoError(t, err)
	assert.Equal(t, 0, badge.Pending)
	assert.Equal(t, 1, badge.ByRole[models.RoleDepartmentEndorser])
	assert.Equal(t, 1, badge.ByRole[models.RoleFacilityAdmin])
	assert.Equal(t, 0, badge.ByRole[models.RoleProgramChair])

	badge, err = f.badges.Badges(ctx, fmo)
	require.NoError(t, err)
	assert.Equal(t, 1, badge.Pending)
	assert.Nil(t, badge.ByRole)
}

func TestBadgeServiceQueueOrdersOldestFirst(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	clock := fixedNow
	f.svc.now = func() time.Time { return clock }

	first, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	second, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)
	clock = clock.Add(time.Minute)
	third, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)

	page, total, err := f.badges.Queue(ctx, endorser, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, first.ID, page[0].ID)
	assert.Equal(t, second.ID, page[1].ID)

	page, _, err = f.badges.Queue(ctx, endorser, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, third.ID, page[0].ID)

	page, total, err = f.badges.Queue(ctx, librarian, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, page)
}

type failingCounter struct{}

func (failingCounter) List(context.Context, models.BookingFilter) ([]models.BookingRequest, int, error) {
	return nil, 0, errors.New("db down")
}

func (failingCounter) CountPendingByStage(context.Context) ([]models.StageCount, error) {
	return nil, errors.New("db down")
}

func TestBadgeServiceSurfacesStoreErrors(t *testing.T) {
	f := newBookingFixture(t)
	svc := NewBadgeService(failingCounter{}, f.catalog, nil)

	_, err := svc.PendingCountFor(context.Background(), models.RoleFacilityAdmin)
	assert.Error(t, err)
	_, _, err = svc.Queue(context.Background(), fmo, 10, 0)
	assert.Error(t, err)
}
