package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/lock"
)

const auditResourceBooking = "booking_request"

type bookingStore interface {
	Create(ctx context.Context, req *models.BookingRequest) error
	GetByID(ctx context.Context, id string) (*models.BookingRequest, error)
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingRequest, int, error)
	ListRecords(ctx context.Context, requestID string) ([]models.ApprovalRecord, error)
	Transition(ctx context.Context, params models.TransitionParams) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditTrailReader interface {
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

type workflowNotifier interface {
	Notify(ctx context.Context, event models.WorkflowEvent)
}

// ArtifactChecker reports whether ref is an artifact uploaded by ownerID.
type ArtifactChecker interface {
	OwnedBy(ownerID, ref string) bool
}

// BookingService owns the booking request lifecycle.
type BookingService struct {
	store     bookingStore
	catalog   *workflow.Catalog
	locker    lock.Locker
	audit     auditLogger
	trail     auditTrailReader
	notifier  workflowNotifier
	artifacts ArtifactChecker
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// BookingServiceOption configures the service.
type BookingServiceOption func(*BookingService)

// WithBookingLocker replaces the in-process stage lock.
func WithBookingLocker(locker lock.Locker) BookingServiceOption {
	return func(s *BookingService) {
		if locker != nil {
			s.locker = locker
		}
	}
}

// WithBookingAudit records submit/decide/withdraw into the audit trail.
func WithBookingAudit(audit auditLogger) BookingServiceOption {
	return func(s *BookingService) { s.audit = audit }
}

// WithBookingAuditTrail enables AuditTrail reads.
func WithBookingAuditTrail(trail auditTrailReader) BookingServiceOption {
	return func(s *BookingService) { s.trail = trail }
}

// WithBookingNotifier publishes workflow events.
func WithBookingNotifier(notifier workflowNotifier) BookingServiceOption {
	return func(s *BookingService) { s.notifier = notifier }
}

// WithArtifactChecker verifies artifact references on submit.
func WithArtifactChecker(checker ArtifactChecker) BookingServiceOption {
	return func(s *BookingService) { s.artifacts = checker }
}

// WithBookingMetrics attaches Prometheus counters.
func WithBookingMetrics(metrics *MetricsService) BookingServiceOption {
	return func(s *BookingService) { s.metrics = metrics }
}

// WithBookingClock overrides the time source.
func WithBookingClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBookingService constructs the service with defaults.
func NewBookingService(store bookingStore, catalog *workflow.Catalog, validate *validator.Validate, logger *zap.Logger, opts ...BookingServiceOption) *BookingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	svc := &BookingService{
		store:     store,
		catalog:   catalog,
		locker:    lock.NewKeyedMutex(),
		validator: validate,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Submit classifies and stores a new request in PENDING(0).
func (s *BookingService) Submit(ctx context.Context, actor models.Actor, req dto.SubmitBookingRequest) (*models.BookingRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid booking payload")
	}
	category, ok := workflow.CategoryForRole(actor.Role)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s cannot submit booking requests", actor.Role))
	}
	if req.RequesterCategory != "" && req.RequesterCategory != category {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("requester category %s does not match role %s", req.RequesterCategory, actor.Role))
	}

	now := s.now()
	if !req.StartsAt.After(now) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "startsAt must be in the future")
	}

	program, err := requestProgram(category, actor, req.Program)
	if err != nil {
		return nil, err
	}

	templateID, err := workflow.Classify(category, req.ResourceType)
	if err != nil {
		s.logger.Warn("classification_failed",
			zap.String("category", string(category)),
			zap.String("resource_type", string(req.ResourceType)),
			zap.String("requester_id", actor.UserID))
		s.metrics.RecordClassificationFailure(category, req.ResourceType)
		return nil, err
	}
	tpl, err := s.catalog.Template(templateID)
	if err != nil {
		return nil, err
	}

	kind, ref, err := s.resolveArtifact(actor, templateID, req.ArtifactKind, req.ArtifactRef)
	if err != nil {
		return nil, err
	}

	booking := &models.BookingRequest{
		RequesterID:       actor.UserID,
		RequesterCategory: category,
		Program:           program,
		ResourceType:      req.ResourceType,
		ResourceName:      strings.TrimSpace(req.ResourceName),
		Purpose:           strings.TrimSpace(req.Purpose),
		StartsAt:          req.StartsAt.UTC(),
		EndsAt:            req.EndsAt.UTC(),
		ArtifactKind:      kind,
		ArtifactRef:       ref,
		TemplateID:        templateID,
		Status:            models.BookingStatusPending,
		CurrentStage:      0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, booking); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create booking request")
	}

	s.metrics.RecordSubmission(templateID)
	s.emitAudit(ctx, actor.UserID, models.AuditActionBookingSubmit, booking.ID, nil, booking)
	first := tpl.Stages[0]
	s.notify(ctx, models.WorkflowEvent{
		Kind:          models.EventSubmitted,
		RequestID:     booking.ID,
		TemplateID:    templateID,
		RequesterID:   booking.RequesterID,
		Program:       booking.ProgramValue(),
		Status:        booking.Status,
		StageIndex:    0,
		AwaitingStage: &first,
		At:            now,
	})
	s.logger.Info("booking submitted",
		zap.String("request_id", booking.ID),
		zap.String("template", string(templateID)),
		zap.String("requester_id", actor.UserID))
	return booking, nil
}

func requestProgram(category models.RequesterCategory, actor models.Actor, declared string) (*string, error) {
	if category != models.CategoryStudent {
		return nil, nil
	}
	program := models.Program(strings.ToUpper(strings.TrimSpace(declared)))
	if program == "" {
		program = actor.Program
	}
	if actor.Program != "" && program != actor.Program {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("student is enrolled in %s, not %s", actor.Program, program))
	}
	if !program.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "students must book under a program (CTHM or SECA)")
	}
	value := string(program)
	return &value, nil
}

func (s *BookingService) resolveArtifact(actor models.Actor, templateID models.TemplateID, kind models.ArtifactKind, ref string) (models.ArtifactKind, *string, error) {
	ref = strings.TrimSpace(ref)
	if kind == "" {
		kind = models.ArtifactNone
	}
	if kind == models.ArtifactNone && ref != "" {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "artifactKind is required when artifactRef is set")
	}
	if kind != models.ArtifactNone && ref == "" {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "artifactRef is required for "+string(kind))
	}
	if templateID == models.TemplateGuestVenue && kind != models.ArtifactLetterOfIntent {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "guest venue requests require a letter of intent")
	}
	if ref == "" {
		return kind, nil, nil
	}
	if s.artifacts != nil && !s.artifacts.OwnedBy(actor.UserID, ref) {
		return "", nil, appErrors.Clone(appErrors.ErrValidation, "artifactRef does not name a file you uploaded")
	}
	return kind, &ref, nil
}

// Decide records actor's decision on the current stage of request id and
// advances the request. Exactly one of several concurrent decisions on the same
// stage succeeds; the others fail with an invalid state error.
func (s *BookingService) Decide(ctx context.Context, id string, actor models.Actor, req dto.DecisionRequest) (*models.BookingRequest, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid decision payload")
	}

	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	tpl, err := s.catalog.Template(booking.TemplateID)
	if err != nil {
		return nil, err
	}
	if booking.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request is already %s", booking.Status))
	}
	if req.StageIndex != nil && *req.StageIndex != booking.CurrentStage {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("stage %d was already decided; request is at stage %d", *req.StageIndex, booking.CurrentStage))
	}
	stage, ok := workflow.CurrentStage(tpl, booking)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("request has no stage %d", booking.CurrentStage))
	}
	if !workflow.ActorCanApprove(actor, stage, booking) {
		if decidedEarlier(tpl, actor, booking) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request already advanced past your stage")
		}
		return nil, appErrors.Clone(appErrors.ErrAuthorization, fmt.Sprintf("%s cannot decide the %s stage", actor.Role.Label(), stage.Label))
	}

	from := workflow.PositionOf(booking)
	next, err := workflow.Advance(tpl, from, req.Decision)
	if err != nil {
		return nil, err
	}

	now := s.now()
	record := &models.ApprovalRecord{
		StageIndex: from.Stage,
		StageKey:   stage.Key,
		Decision:   req.Decision,
		ActorID:    actor.UserID,
		ActorRole:  actor.Role,
		Comment:    optionalString(req.Comment),
		DecidedAt:  now,
	}
	err = s.store.Transition(ctx, models.TransitionParams{
		RequestID:     booking.ID,
		ExpectedStage: from.Stage,
		NewStatus:     next.Status,
		NewStage:      next.Stage,
		At:            now,
		Record:        record,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, fmt.Sprintf("stage %d was decided concurrently", from.Stage))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record decision")
	}

	before := *booking
	booking.Status = next.Status
	booking.CurrentStage = next.Stage
	booking.UpdatedAt = now

	s.metrics.RecordDecision(booking.TemplateID, stage.Key, req.Decision)
	s.emitAudit(ctx, actor.UserID, models.AuditActionBookingDecide, booking.ID, positionSnapshot(&before), decisionSnapshot(booking, record))

	event := models.WorkflowEvent{
		RequestID:    booking.ID,
		TemplateID:   booking.TemplateID,
		RequesterID:  booking.RequesterID,
		Program:      booking.ProgramValue(),
		Status:       booking.Status,
		StageIndex:   booking.CurrentStage,
		ReleasedRole: stage.Role,
		At:           now,
	}
	switch next.Status {
	case models.BookingStatusPending:
		event.Kind = models.EventAdvanced
		awaiting := tpl.Stages[next.Stage]
		event.AwaitingStage = &awaiting
	case models.BookingStatusApproved:
		event.Kind = models.EventApproved
	default:
		event.Kind = models.EventRejected
	}
	s.notify(ctx, event)

	s.logger.Info("booking decided",
		zap.String("request_id", booking.ID),
		zap.Int("stage", from.Stage),
		zap.String("decision", string(req.Decision)),
		zap.String("actor_id", actor.UserID),
		zap.String("status", string(booking.Status)))
	return booking, nil
}

// decidedEarlier reports whether actor had authority over a stage the request
// already passed, program and department scope included.
func decidedEarlier(tpl models.WorkflowTemplate, actor models.Actor, booking *models.BookingRequest) bool {
	for i := 0; i < booking.CurrentStage && i < len(tpl.Stages); i++ {
		if workflow.ActorCanApprove(actor, tpl.Stages[i], booking) {
			return true
		}
	}
	return false
}

// Withdraw lets the original requester cancel a pending request.
func (s *BookingService) Withdraw(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, error) {
	release, err := s.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer release()

	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if booking.RequesterID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "only the requester may withdraw a booking request")
	}
	tpl, err := s.catalog.Template(booking.TemplateID)
	if err != nil {
		return nil, err
	}
	from := workflow.PositionOf(booking)
	next, err := workflow.Withdraw(from)
	if err != nil {
		return nil, err
	}

	now := s.now()
	err = s.store.Transition(ctx, models.TransitionParams{
		RequestID:      booking.ID,
		ExpectedStage:  from.Stage,
		NewStatus:      next.Status,
		NewStage:       next.Stage,
		At:             now,
		MarkWithdrawal: true,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "request changed while withdrawing")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to withdraw booking request")
	}

	before := *booking
	booking.Status = next.Status
	booking.UpdatedAt = now
	booking.WithdrawnAt = &now

	s.metrics.RecordWithdrawal(booking.TemplateID)
	s.emitAudit(ctx, actor.UserID, models.AuditActionBookingWithdraw, booking.ID, positionSnapshot(&before), positionSnapshot(booking))
	event := models.WorkflowEvent{
		Kind:        models.EventWithdrawn,
		RequestID:   booking.ID,
		TemplateID:  booking.TemplateID,
		RequesterID: booking.RequesterID,
		Program:     booking.ProgramValue(),
		Status:      booking.Status,
		StageIndex:  booking.CurrentStage,
		At:          now,
	}
	if from.Stage < len(tpl.Stages) {
		event.ReleasedRole = tpl.Stages[from.Stage].Role
	}
	s.notify(ctx, event)
	return booking, nil
}

// Get returns a request the actor may see.
func (s *BookingService) Get(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, error) {
	booking, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, booking) {
		return nil, appErrors.ErrForbidden
	}
	return booking, nil
}

// History returns the approval trail of a request.
func (s *BookingService) History(ctx context.Context, id string, actor models.Actor) (*models.BookingRequest, []models.ApprovalRecord, error) {
	booking, err := s.Get(ctx, id, actor)
	if err != nil {
		return nil, nil, err
	}
	records, err := s.store.ListRecords(ctx, id)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval history")
	}
	if tpl, err := s.catalog.Template(booking.TemplateID); err == nil {
		if err := workflow.CheckTrail(tpl, records); err != nil {
			s.logger.Error("approval trail inconsistent",
				zap.String("request_id", booking.ID),
				zap.Int("records", len(records)),
				zap.Error(err))
		}
	}
	return booking, records, nil
}

// AuditTrail returns every audit entry written for request id, oldest first.
// Only a Super Admin may read it.
func (s *BookingService) AuditTrail(ctx context.Context, id string, actor models.Actor) ([]models.AuditLog, error) {
	if actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only a super admin may read the audit trail")
	}
	if s.trail == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "audit trail is not configured")
	}
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.trail.ListByResource(ctx, auditResourceBooking, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load audit trail")
	}
	return logs, nil
}

// Detail returns a request with its timeline and the actor's available actions.
func (s *BookingService) Detail(ctx context.Context, id string, actor models.Actor) (*dto.BookingDetail, error) {
	booking, records, err := s.History(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	tpl, err := s.catalog.Template(booking.TemplateID)
	if err != nil {
		return nil, err
	}
	return &dto.BookingDetail{
		Request:      booking,
		Timeline:     workflow.Timeline(tpl, booking, records),
		NextApprover: workflow.NextApproverLabel(tpl, booking),
		CanDecide:    workflow.CanDecide(tpl, actor, booking),
		CanWithdraw:  booking.Status == models.BookingStatusPending && booking.RequesterID == actor.UserID,
	}, nil
}

// List returns requests visible to the actor: requesters see their own, staff
// with approval authority see everything.
func (s *BookingService) List(ctx context.Context, actor models.Actor, query dto.BookingQuery) ([]dto.BookingSummary, int, error) {
	filter := models.BookingFilter{
		Status:     query.Status,
		TemplateID: query.TemplateID,
		Limit:      query.Limit,
		Offset:     query.Offset,
	}
	switch {
	case isRequesterRole(actor.Role):
		filter.RequesterID = actor.UserID
	case isStaffRole(actor.Role):
	default:
		return nil, 0, appErrors.ErrForbidden
	}
	requests, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list booking requests")
	}
	return s.summaries(requests), total, nil
}

func (s *BookingService) summaries(requests []models.BookingRequest) []dto.BookingSummary {
	out := make([]dto.BookingSummary, 0, len(requests))
	for i := range requests {
		summary := dto.BookingSummary{BookingRequest: requests[i]}
		if tpl, err := s.catalog.Template(requests[i].TemplateID); err == nil {
			summary.NextApprover = workflow.NextApproverLabel(tpl, &requests[i])
		}
		out = append(out, summary)
	}
	return out
}

func (s *BookingService) acquire(ctx context.Context, id string) (lock.Release, error) {
	start := time.Now()
	release, err := s.locker.Acquire(ctx, "booking:"+id)
	s.metrics.ObserveLockWait(time.Since(start))
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return release, nil
}

func (s *BookingService) load(ctx context.Context, id string) (*models.BookingRequest, error) {
	booking, err := s.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "booking request not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load booking request")
	}
	return booking, nil
}

func (s *BookingService) notify(ctx context.Context, event models.WorkflowEvent) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event)
}

func (s *BookingService) emitAudit(ctx context.Context, userID, action, resourceID string, oldValues, newValues interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   auditResourceBooking,
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "booking-service",
	}
	if oldValues != nil {
		log.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		log.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", action), zap.Error(err))
	}
}

func positionSnapshot(b *models.BookingRequest) map[string]interface{} {
	return map[string]interface{}{"status": b.Status, "currentStage": b.CurrentStage}
}

func decisionSnapshot(b *models.BookingRequest, rec *models.ApprovalRecord) map[string]interface{} {
	snap := positionSnapshot(b)
	snap["decision"] = rec.Decision
	snap["stageKey"] = rec.StageKey
	if rec.Comment != nil {
		snap["comment"] = *rec.Comment
	}
	return snap
}

func canView(actor models.Actor, booking *models.BookingRequest) bool {
	if actor.UserID != "" && actor.UserID == booking.RequesterID {
		return true
	}
	return isStaffRole(actor.Role)
}

func isRequesterRole(role models.Role) bool {
	_, ok := workflow.CategoryForRole(role)
	return ok
}

// isStaffRole covers roles holding approval authority over at least one stage.
func isStaffRole(role models.Role) bool {
	for _, r := range workflow.ApprovingRoles() {
		if r == role {
			return true
		}
	}
	return false
}

func optionalString(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	v := strings.TrimSpace(value)
	return &v
}
