package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/icrrus-api/internal/models"
)

const bookingColumns = `id, requester_id, requester_category, program, resource_type, resource_name, purpose,
       starts_at, ends_at, artifact_kind, artifact_ref, template_id, status, current_stage,
       created_at, updated_at, withdrawn_at`

const uniqueViolation = "23505"

// BookingRepository persists booking requests and their approval trail in PostgreSQL.
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository constructs the repository.
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// Create inserts a new request row.
func (r *BookingRepository) Create(ctx context.Context, req *models.BookingRequest) error {
	prepareBooking(req, time.Now().UTC())
	const query = `INSERT INTO booking_requests
	(id, requester_id, requester_category, program, resource_type, resource_name, purpose, starts_at, ends_at,
	 artifact_kind, artifact_ref, template_id, status, current_stage, created_at, updated_at, withdrawn_at)
	VALUES (:id, :requester_id, :requester_category, :program, :resource_type, :resource_name, :purpose, :starts_at, :ends_at,
	 :artifact_kind, :artifact_ref, :template_id, :status, :current_stage, :created_at, :updated_at, :withdrawn_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create booking request: %w", err)
	}
	return nil
}

// GetByID fetches a request by identifier. Missing rows yield sql.ErrNoRows.
func (r *BookingRepository) GetByID(ctx context.Context, id string) (*models.BookingRequest, error) {
	query := `SELECT ` + bookingColumns + ` FROM booking_requests WHERE id = $1`
	var req models.BookingRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns requests matching the filter, newest first, and the unpaged total.
func (r *BookingRepository) List(ctx context.Context, filter models.BookingFilter) ([]models.BookingRequest, int, error) {
	where, args := bookingConditions(filter)

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM booking_requests"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count booking requests: %w", err)
	}

	limit, offset := normalisePage(filter.Limit, filter.Offset)
	query := fmt.Sprintf("SELECT %s FROM booking_requests%s ORDER BY created_at DESC, id LIMIT %d OFFSET %d",
		bookingColumns, where, limit, offset)

	var requests []models.BookingRequest
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list booking requests: %w", err)
	}
	return requests, total, nil
}

func bookingConditions(filter models.BookingFilter) (string, []interface{}) {
	args := make([]interface{}, 0, 6)
	conditions := make([]string, 0, 4)
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.TemplateID != "" {
		args = append(args, filter.TemplateID)
		conditions = append(conditions, fmt.Sprintf("template_id = $%d", len(args)))
	}
	if filter.Stage != nil {
		args = append(args, *filter.Stage)
		conditions = append(conditions, fmt.Sprintf("current_stage = $%d", len(args)))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		conditions = append(conditions, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// ListRecords returns the approval trail of a request ordered by stage.
func (r *BookingRepository) ListRecords(ctx context.Context, requestID string) ([]models.ApprovalRecord, error) {
	const query = `SELECT id, request_id, stage_index, stage_key, decision, actor_id, actor_role, comment, decided_at
	FROM approval_records WHERE request_id = $1 ORDER BY stage_index`
	var records []models.ApprovalRecord
	if err := r.db.SelectContext(ctx, &records, query, requestID); err != nil {
		return nil, fmt.Errorf("list approval records: %w", err)
	}
	return records, nil
}

// Transition moves a request from PENDING(ExpectedStage) to the new position and
// appends the optional record in the same transaction. When the request is no
// longer at the expected position, or the stage already holds a record, it
// returns sql.ErrNoRows and nothing is written.
func (r *BookingRepository) Transition(ctx context.Context, params models.TransitionParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	setParts := []string{"status = $1", "current_stage = $2", "updated_at = $3"}
	if params.MarkWithdrawal {
		setParts = append(setParts, "withdrawn_at = $3")
	}
	query := fmt.Sprintf("UPDATE booking_requests SET %s WHERE id = $4 AND status = '%s' AND current_stage = $5",
		strings.Join(setParts, ", "),
		models.BookingStatusPending,
	)
	result, err := tx.ExecContext(ctx, query, params.NewStatus, params.NewStage, params.At, params.RequestID, params.ExpectedStage)
	if err != nil {
		return fmt.Errorf("update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check booking update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if params.Record != nil {
		prepareRecord(params.Record, params.RequestID, params.At)
		const insert = `INSERT INTO approval_records
		(id, request_id, stage_index, stage_key, decision, actor_id, actor_role, comment, decided_at)
		VALUES (:id, :request_id, :stage_index, :stage_key, :decision, :actor_id, :actor_role, :comment, :decided_at)`
		if _, err = tx.NamedExecContext(ctx, insert, params.Record); err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return sql.ErrNoRows
			}
			return fmt.Errorf("insert approval record: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// CountPendingByStage groups pending requests by template, stage and program.
func (r *BookingRepository) CountPendingByStage(ctx context.Context) ([]models.StageCount, error) {
	query := fmt.Sprintf(`SELECT template_id, current_stage, program, COUNT(*) AS total
	FROM booking_requests WHERE status = '%s'
	GROUP BY template_id, current_stage, program`, models.BookingStatusPending)
	var counts []models.StageCount
	if err := r.db.SelectContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("count pending requests: %w", err)
	}
	return counts, nil
}

func prepareBooking(req *models.BookingRequest, now time.Time) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = models.BookingStatusPending
	}
	if req.ArtifactKind == "" {
		req.ArtifactKind = models.ArtifactNone
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.UpdatedAt.IsZero() {
		req.UpdatedAt = req.CreatedAt
	}
}

func prepareRecord(rec *models.ApprovalRecord, requestID string, at time.Time) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.RequestID = requestID
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = at
	}
}

func normalisePage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
