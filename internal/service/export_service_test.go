package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

func TestExportServiceHistoryCSV(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	booking, err := f.svc.Submit(ctx, affiliate, venueRequest())
	require.NoError(t, err)
	_, err = f.svc.Decide(ctx, booking.ID, endorser, approve())
	require.NoError(t, err)

	svc := NewExportService(f.svc, f.catalog, nil)
	result, err := svc.History(ctx, booking.ID, affiliate, ExportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", result.ContentType)
	assert.Equal(t, "booking_"+booking.ID+"_history.csv", result.Filename)

	rows, err := csv.NewReader(bytes.NewReader(result.Body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Stage", rows[0][1])
	assert.Equal(t, "Department Endorser", rows[1][1])
	assert.Equal(t, string(models.StageStateApproved), rows[1][3])
	assert.Equal(t, "endorser-1", rows[1][4])
	assert.Equal(t, string(models.StageStatePending), rows[2][3])
}

func TestExportServiceHistoryPDF(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	booking, err := f.svc.Submit(ctx, studentCTHM, labRequest(models.ResourceComputerLab))
	require.NoError(t, err)

	svc := NewExportService(f.svc, f.catalog, nil)
	result, err := svc.History(ctx, booking.ID, chairCTHM, "PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.True(t, bytes.HasPrefix(result.Body, []byte("%PDF")))
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	f := newBookingFixture(t)
	svc := NewExportService(f.svc, f.catalog, nil)
	_, err := svc.History(context.Background(), "any", affiliate, "xlsx")
	assert.True(t, errors.Is(err, appErrors.ErrValidation))

	_, err = svc.History(context.Background(), "missing", affiliate, ExportFormatCSV)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))
}
