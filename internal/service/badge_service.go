package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

const queueScanPage = 200

type pendingReader interface {
	List(ctx context.Context, filter models.BookingFilter) ([]models.BookingRequest, int, error)
	CountPendingByStage(ctx context.Context) ([]models.StageCount, error)
}

// BadgeService derives approver pending counts and work queues from the
// current workflow positions.
type BadgeService struct {
	store   pendingReader
	catalog *workflow.Catalog
	logger  *zap.Logger
}

// NewBadgeService constructs a BadgeService.
func NewBadgeService(store pendingReader, catalog *workflow.Catalog, logger *zap.Logger) *BadgeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BadgeService{store: store, catalog: catalog, logger: logger}
}

// PendingCountFor counts PENDING requests whose current stage is held by role,
// regardless of program or department scope.
func (s *BadgeService) PendingCountFor(ctx context.Context, role models.Role) (int, error) {
	counts, err := s.counts(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		stage, ok := s.catalog.Stage(c.TemplateID, c.StageIndex)
		if ok && stage.Role == role {
			total += c.Total
		}
	}
	return total, nil
}

// PendingCountForActor counts the PENDING requests actor could decide now.
func (s *BadgeService) PendingCountForActor(ctx context.Context, actor models.Actor) (int, error) {
	counts, err := s.counts(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, c := range counts {
		stage, ok := s.catalog.Stage(c.TemplateID, c.StageIndex)
		if !ok {
			continue
		}
		probe := &models.BookingRequest{Program: c.Program}
		if workflow.ActorCanApprove(actor, stage, probe) {
			total += c.Total
		}
	}
	return total, nil
}

// Badges returns the caller's badge. Super admins additionally see the
// unscoped count for every approving role.
func (s *BadgeService) Badges(ctx context.Context, actor models.Actor) (*dto.BadgeResponse, error) {
	pending, err := s.PendingCountForActor(ctx, actor)
	if err != nil {
		return nil, err
	}
	resp := &dto.BadgeResponse{Role: actor.Role, Pending: pending}
	if actor.Role != models.RoleSuperAdmin {
		return resp, nil
	}
	resp.ByRole = make(map[models.Role]int)
	for _, role := range workflow.ApprovingRoles() {
		n, err := s.PendingCountFor(ctx, role)
		if err != nil {
			return nil, err
		}
		resp.ByRole[role] = n
	}
	return resp, nil
}

// Queue lists the requests awaiting actor's decision, oldest first.
func (s *BadgeService) Queue(ctx context.Context, actor models.Actor, limit, offset int) ([]dto.BookingSummary, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var matched []models.BookingRequest
	for _, tpl := range s.catalog.Templates() {
		for i, stage := range tpl.Stages {
			if stage.Role != actor.Role {
				continue
			}
			stageIndex := i
			filter := models.BookingFilter{
				Status:     []models.BookingStatus{models.BookingStatusPending},
				TemplateID: tpl.ID,
				Stage:      &stageIndex,
				Limit:      queueScanPage,
			}
			for {
				page, total, err := s.store.List(ctx, filter)
				if err != nil {
					return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load approval queue")
				}
				for j := range page {
					if workflow.ActorCanApprove(actor, stage, &page[j]) {
						matched = append(matched, page[j])
					}
				}
				filter.Offset += len(page)
				if len(page) == 0 || filter.Offset >= total {
					break
				}
			}
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	out := make([]dto.BookingSummary, 0, end-offset)
	for i := offset; i < end; i++ {
		summary := dto.BookingSummary{BookingRequest: matched[i]}
		if tpl, err := s.catalog.Template(matched[i].TemplateID); err == nil {
			summary.NextApprover = workflow.NextApproverLabel(tpl, &matched[i])
		}
		out = append(out, summary)
	}
	return out, total, nil
}

func (s *BadgeService) counts(ctx context.Context) ([]models.StageCount, error) {
	counts, err := s.store.CountPendingByStage(ctx)
	if err != nil {
		s.logger.Error("failed to count pending requests", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending requests")
	}
	return counts, nil
}
