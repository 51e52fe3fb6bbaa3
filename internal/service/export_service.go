package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/export"
)

// ExportFormat enumerates supported history export renderings.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

type historyReader interface {
	History(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, []models.ApprovalRecord, error)
}

// ExportResult is a rendered file ready to stream.
type ExportResult struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders a request's approval history as CSV or PDF.
type ExportService struct {
	history historyReader
	catalog *workflow.Catalog
	logger  *zap.Logger
}

// NewExportService constructs an ExportService.
func NewExportService(history historyReader, catalog *workflow.Catalog, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{history: history, catalog: catalog, logger: logger}
}

// History renders the timeline of request id in format.
func (s *ExportService) History(ctx context.Context, id string, actor models.Actor, format ExportFormat) (*ExportResult, error) {
	format = ExportFormat(strings.ToLower(string(format)))
	if format != ExportFormatCSV && format != ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	booking, records, err := s.history.History(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	tpl, err := s.catalog.Template(booking.TemplateID)
	if err != nil {
		return nil, err
	}

	table := historyTable(booking, workflow.Timeline(tpl, booking, records))
	var (
		body        []byte
		contentType string
	)
	switch format {
	case ExportFormatCSV:
		body, err = export.RenderCSV(table)
		contentType = "text/csv"
	default:
		body, err = export.RenderPDF(table)
		contentType = "application/pdf"
	}
	if err != nil {
		s.logger.Error("failed to render history export", zap.String("request_id", id), zap.String("format", string(format)), zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportResult{
		Filename:    fmt.Sprintf("booking_%s_history.%s", booking.ID, format),
		ContentType: contentType,
		Body:        body,
	}, nil
}

func historyTable(booking *models.BookingRequest, timeline []models.TimelineEntry) export.Table {
	rows := make([][]string, 0, len(timeline))
	for _, entry := range timeline {
		row := []string{
			fmt.Sprintf("%d", entry.StageIndex+1),
			entry.Stage.Label,
			entry.Stage.Role.Label(),
			string(entry.State),
			"", "", "",
		}
		if rec := entry.Record; rec != nil {
			row[4] = rec.ActorID
			row[5] = rec.DecidedAt.UTC().Format(time.RFC3339)
			if rec.Comment != nil {
				row[6] = *rec.Comment
			}
		}
		rows = append(rows, row)
	}
	return export.Table{
		Title: fmt.Sprintf("Booking %s: %s", booking.ID, booking.ResourceName),
		Subtitle: fmt.Sprintf("%s | %s | %s to %s", booking.TemplateID, booking.Status,
			booking.StartsAt.UTC().Format(time.RFC3339), booking.EndsAt.UTC().Format(time.RFC3339)),
		Columns: []export.Column{
			{Header: "#", Weight: 0.5},
			{Header: "Stage", Weight: 2.5},
			{Header: "Role", Weight: 2},
			{Header: "State", Weight: 1.5},
			{Header: "Actor", Weight: 2},
			{Header: "Decided At", Weight: 2},
			{Header: "Comment", Weight: 3},
		},
		Rows: rows,
	}
}
