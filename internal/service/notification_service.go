package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/realtime"
	"github.com/noah-isme/icrrus-api/pkg/jobs"
)

// JobTypeWorkflowEvent routes workflow events through the notification queue.
const JobTypeWorkflowEvent = "workflow.event"

// Message types pushed to portals.
const (
	MessageBookingStatus = "booking.status"
	MessageBadgeRefresh  = "badge.refresh"
)

type eventPublisher interface {
	Publish(msgType string, data interface{}, audience realtime.Audience) bool
}

type jobQueue interface {
	Register(jobType string, handler jobs.Handler)
	Enqueue(job jobs.Job) error
}

// NotificationService fans workflow events out to connected portals. Delivery
// is best effort: a dropped notification never fails the transition that
// raised it.
type NotificationService struct {
	queue     jobQueue
	publisher eventPublisher
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewNotificationService registers the event handler on queue.
func NewNotificationService(queue jobQueue, publisher eventPublisher, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &NotificationService{queue: queue, publisher: publisher, metrics: metrics, logger: logger}
	if queue != nil {
		queue.Register(JobTypeWorkflowEvent, svc.handle)
	}
	return svc
}

// Notify enqueues one delivery job per outbound message of event, so a retry
// only repeats the message that failed.
func (s *NotificationService) Notify(_ context.Context, event models.WorkflowEvent) {
	if s.queue == nil {
		return
	}
	for _, out := range Audiences(event) {
		job := jobs.Job{Type: JobTypeWorkflowEvent, Payload: delivery{Event: event, Outbound: out}}
		if err := s.queue.Enqueue(job); err != nil {
			s.metrics.RecordNotificationDropped()
			s.logger.Warn("notification dropped",
				zap.String("kind", string(event.Kind)),
				zap.String("type", out.Type),
				zap.String("request_id", event.RequestID),
				zap.Error(err))
		}
	}
}

// delivery is the payload of a single notification job.
type delivery struct {
	Event    models.WorkflowEvent
	Outbound Outbound
}

func (s *NotificationService) handle(_ context.Context, job jobs.Job) error {
	d, ok := job.Payload.(delivery)
	if !ok {
		s.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if !s.publisher.Publish(d.Outbound.Type, d.Event, d.Outbound.Audience) {
		return fmt.Errorf("publish %s for %s", d.Outbound.Type, d.Event.RequestID)
	}
	return nil
}

// Outbound is one message and its recipients.
type Outbound struct {
	Type     string
	Audience realtime.Audience
}

// Audiences decides who hears about event: the requester always, the holders
// of the awaiting stage so their badge grows, and the role whose stage was just
// released so theirs shrinks.
func Audiences(event models.WorkflowEvent) []Outbound {
	out := []Outbound{{
		Type:     MessageBookingStatus,
		Audience: realtime.Audience{UserIDs: []string{event.RequesterID}},
	}}
	if stage := event.AwaitingStage; stage != nil {
		aud := realtime.Audience{Roles: []models.Role{stage.Role}, Department: stage.Department}
		if stage.ProgramScoped {
			aud.Program = event.Program
		}
		out = append(out, Outbound{Type: MessageBadgeRefresh, Audience: aud})
	}
	if event.ReleasedRole != "" {
		out = append(out, Outbound{
			Type:     MessageBadgeRefresh,
			Audience: realtime.Audience{Roles: []models.Role{event.ReleasedRole}},
		})
	}
	return out
}
