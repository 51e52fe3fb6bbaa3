package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/middleware"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/service"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/storage"
)

type bookingServiceMock struct {
	submitResp  *models.BookingRequest
	decideResp  *models.BookingRequest
	decideErr   error
	detailResp  *dto.BookingDetail
	getResp     *models.BookingRequest
	listResp    []dto.BookingSummary
	listTotal   int
	lastQuery   dto.BookingQuery
	lastDecide  dto.DecisionRequest
	lastActor   models.Actor
	submitCalls int
}

func (m *bookingServiceMock) Submit(_ context.Context, actor models.Actor, _ dto.SubmitBookingRequest) (*models.BookingRequest, error) {
	m.submitCalls++
	m.lastActor = actor
	return m.submitResp, nil
}

func (m *bookingServiceMock) Decide(_ context.Context, _ string, actor models.Actor, req dto.DecisionRequest) (*models.BookingRequest, error) {
	m.lastActor = actor
	m.lastDecide = req
	return m.decideResp, m.decideErr
}

func (m *bookingServiceMock) Withdraw(_ context.Context, id string, _ models.Actor) (*models.BookingRequest, error) {
	return &models.BookingRequest{ID: id, Status: models.BookingStatusWithdrawn}, nil
}

func (m *bookingServiceMock) Get(_ context.Context, _ string, _ models.Actor) (*models.BookingRequest, error) {
	return m.getResp, nil
}

func (m *bookingServiceMock) Detail(_ context.Context, _ string, _ models.Actor) (*dto.BookingDetail, error) {
	return m.detailResp, nil
}

func (m *bookingServiceMock) History(_ context.Context, id string, _ models.Actor) (*models.BookingRequest, []models.ApprovalRecord, error) {
	return &models.BookingRequest{ID: id}, []models.ApprovalRecord{{StageIndex: 0, Decision: models.DecisionApproved}}, nil
}

func (m *bookingServiceMock) List(_ context.Context, _ models.Actor, query dto.BookingQuery) ([]dto.BookingSummary, int, error) {
	m.lastQuery = query
	return m.listResp, m.listTotal, nil
}

func (m *bookingServiceMock) AuditTrail(_ context.Context, id string, actor models.Actor) ([]models.AuditLog, error) {
	m.lastActor = actor
	if actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.ErrForbidden
	}
	return []models.AuditLog{{Action: models.AuditActionBookingSubmit, Resource: "booking_request", ResourceID: &id}}, nil
}

type exporterMock struct{ format service.ExportFormat }

func (m *exporterMock) History(_ context.Context, id string, _ models.Actor, format service.ExportFormat) (*service.ExportResult, error) {
	m.format = format
	return &service.ExportResult{Filename: "booking_" + id + "_history.csv", ContentType: "text/csv", Body: []byte("#,Stage\n")}, nil
}

type linkerMock struct{}

func (linkerMock) Link(_ models.Actor, ref string) (*dto.ArtifactResponse, error) {
	return &dto.ArtifactResponse{Ref: ref, DownloadURL: "/api/v1/artifacts/download?token=t"}, nil
}

type responseEnvelope struct {
	Data       json.RawMessage        `json:"data"`
	Error      *appErrors.Error       `json:"error"`
	Pagination map[string]interface{} `json:"pagination"`
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func withActor(c *gin.Context, actor models.Actor) {
	c.Set(middleware.ContextUserKey, &models.JWTClaims{
		UserID:     actor.UserID,
		Role:       actor.Role,
		Program:    actor.Program,
		Department: actor.Department,
	})
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) responseEnvelope {
	t.Helper()
	var env responseEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestBookingHandlerSubmit(t *testing.T) {
	svc := &bookingServiceMock{submitResp: &models.BookingRequest{ID: "req-1", TemplateID: models.TemplateAffiliateVenue}}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	body := []byte(`{"resourceType":"VENUE","resourceName":"Hall","startsAt":"2026-05-01T09:00:00Z","endsAt":"2026-05-01T12:00:00Z"}`)
	c, w := newGinContext(http.MethodPost, "/bookings", body)
	withActor(c, models.Actor{UserID: "affiliate-1", Role: models.RoleAffiliateRenter})

	h.Submit(c)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "affiliate-1", svc.lastActor.UserID)

	var booking models.BookingRequest
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &booking))
	assert.Equal(t, "req-1", booking.ID)
}

func TestBookingHandlerSubmitRequiresClaims(t *testing.T) {
	svc := &bookingServiceMock{}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	c, w := newGinContext(http.MethodPost, "/bookings", []byte(`{}`))
	h.Submit(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Zero(t, svc.submitCalls)
}

func TestBookingHandlerSubmitMalformedBody(t *testing.T) {
	svc := &bookingServiceMock{}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	c, w := newGinContext(http.MethodPost, "/bookings", []byte(`{"resourceType":`))
	withActor(c, models.Actor{UserID: "affiliate-1", Role: models.RoleAffiliateRenter})
	h.Submit(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Zero(t, svc.submitCalls)
}

func TestBookingHandlerDecideMapsErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"authorization", appErrors.Clone(appErrors.ErrAuthorization, "nope"), http.StatusForbidden, appErrors.ErrAuthorization.Code},
		{"invalid state", appErrors.Clone(appErrors.ErrInvalidState, "already decided"), http.StatusConflict, appErrors.ErrInvalidState.Code},
		{"not found", appErrors.ErrNotFound, http.StatusNotFound, appErrors.ErrNotFound.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &bookingServiceMock{decideErr: tc.err}
			h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})
			c, w := newGinContext(http.MethodPost, "/bookings/req-1/decision", []byte(`{"decision":"approved"}`))
			c.Params = gin.Params{{Key: "id", Value: "req-1"}}
			withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})

			h.Decide(c)
			require.Equal(t, tc.status, w.Code)
			env := decodeEnvelope(t, w)
			require.NotNil(t, env.Error)
			assert.Equal(t, tc.code, env.Error.Code)
			assert.Equal(t, models.DecisionApproved, svc.lastDecide.Decision)
		})
	}
}

func TestBookingHandlerListParsesFilters(t *testing.T) {
	svc := &bookingServiceMock{listResp: []dto.BookingSummary{{BookingRequest: models.BookingRequest{ID: "req-1"}}}, listTotal: 7}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	c, w := newGinContext(http.MethodGet, "/bookings?status=pending,approved&templateId=guest_venue&limit=5&offset=5", nil)
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []models.BookingStatus{models.BookingStatusPending, models.BookingStatusApproved}, svc.lastQuery.Status)
	assert.Equal(t, models.TemplateGuestVenue, svc.lastQuery.TemplateID)
	assert.Equal(t, 5, svc.lastQuery.Limit)
	env := decodeEnvelope(t, w)
	assert.EqualValues(t, 7, env.Pagination["total_count"])

	c, w = newGinContext(http.MethodGet, "/bookings?status=lost", nil)
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newGinContext(http.MethodGet, "/bookings?limit=abc", nil)
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.List(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandlerExportHistory(t *testing.T) {
	exporter := &exporterMock{}
	h := NewBookingHandler(&bookingServiceMock{}, exporter, linkerMock{})

	c, w := newGinContext(http.MethodGet, "/bookings/req-1/history/export", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	withActor(c, models.Actor{UserID: "affiliate-1", Role: models.RoleAffiliateRenter})
	h.ExportHistory(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.ExportFormatCSV, exporter.format)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "booking_req-1_history.csv")
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
}

func TestBookingHandlerArtifactLink(t *testing.T) {
	ref := "guest-1/loi.pdf"
	svc := &bookingServiceMock{getResp: &models.BookingRequest{ID: "req-1", ArtifactKind: models.ArtifactLetterOfIntent, ArtifactRef: &ref}}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	c, w := newGinContext(http.MethodGet, "/bookings/req-1/artifact", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	withActor(c, models.Actor{UserID: "admin-1", Role: models.RoleSuperAdmin})
	h.Artifact(c)
	require.Equal(t, http.StatusOK, w.Code)

	var link dto.ArtifactResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &link))
	assert.Equal(t, ref, link.Ref)
	assert.Equal(t, models.ArtifactLetterOfIntent, link.Kind)

	svc.getResp = &models.BookingRequest{ID: "req-2"}
	c, w = newGinContext(http.MethodGet, "/bookings/req-2/artifact", nil)
	withActor(c, models.Actor{UserID: "admin-1", Role: models.RoleSuperAdmin})
	h.Artifact(c)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWorkflowHandlerClassify(t *testing.T) {
	catalog, err := workflow.NewCatalog(workflow.DefaultTemplates())
	require.NoError(t, err)
	h := NewWorkflowHandler(catalog)

	c, w := newGinContext(http.MethodPost, "/workflow/classify", []byte(`{"requesterCategory":"student","resourceType":"computer_lab"}`))
	h.Classify(c)
	require.Equal(t, http.StatusOK, w.Code)
	var resp dto.ClassifyResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, models.TemplateStudentComputerLab, resp.TemplateID)
	assert.Len(t, resp.Stages, 3)

	c, w = newGinContext(http.MethodPost, "/workflow/classify", []byte(`{"resourceType":"VENUE"}`))
	withActor(c, models.Actor{UserID: "affiliate-1", Role: models.RoleAffiliateRenter})
	h.Classify(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &resp))
	assert.Equal(t, models.TemplateAffiliateVenue, resp.TemplateID)

	c, w = newGinContext(http.MethodPost, "/workflow/classify", []byte(`{"requesterCategory":"STUDENT","resourceType":"STUDY_ROOM"}`))
	h.Classify(c)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

type badgeServiceMock struct {
	limit, offset int
}

func (m *badgeServiceMock) Badges(_ context.Context, actor models.Actor) (*dto.BadgeResponse, error) {
	return &dto.BadgeResponse{Role: actor.Role, Pending: 3}, nil
}

func (m *badgeServiceMock) Queue(_ context.Context, _ models.Actor, limit, offset int) ([]dto.BookingSummary, int, error) {
	m.limit, m.offset = limit, offset
	return []dto.BookingSummary{}, 0, nil
}

func TestApprovalHandler(t *testing.T) {
	svc := &badgeServiceMock{}
	h := NewApprovalHandler(svc)

	c, w := newGinContext(http.MethodGet, "/approvals/badges", nil)
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.Badges(c)
	require.Equal(t, http.StatusOK, w.Code)
	var badge dto.BadgeResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &badge))
	assert.Equal(t, 3, badge.Pending)

	c, w = newGinContext(http.MethodGet, "/approvals/queue?limit=10&offset=20", nil)
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.Queue(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, svc.limit)
	assert.Equal(t, 20, svc.offset)
}

func TestArtifactHandlerRoundTrip(t *testing.T) {
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("secret", 0)
	svc := service.NewArtifactService(store, signer, nil, service.ArtifactConfig{APIPrefix: "/api/v1"}, nil)
	h := NewArtifactHandler(svc, 1<<20)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("kind", "letter_of_intent"))
	part, err := writer.CreateFormFile("file", "loi.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("%PDF-1.4\n%%EOF\n"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	c, w := newGinContext(http.MethodPost, "/artifacts", body.Bytes())
	c.Request.Header.Set("Content-Type", writer.FormDataContentType())
	withActor(c, models.Actor{UserID: "guest-1", Role: models.RoleGuestRenter})
	h.Upload(c)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var uploaded dto.ArtifactResponse
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &uploaded))
	assert.Equal(t, models.ArtifactLetterOfIntent, uploaded.Kind)

	c, w = newGinContext(http.MethodGet, uploaded.DownloadURL, nil)
	h.Download(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), filepath.Base(uploaded.Ref))
	got, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.4\n%%EOF\n"), got)

	c, w = newGinContext(http.MethodGet, "/artifacts/download?token=forged", nil)
	h.Download(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMetricsHandlerReady(t *testing.T) {
	h := NewMetricsHandler(service.NewMetricsService(), map[string]ReadinessCheck{
		"store": func(context.Context) error { return nil },
	})
	c, w := newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusOK, w.Code)

	h = NewMetricsHandler(nil, map[string]ReadinessCheck{
		"redis": func(context.Context) error { return appErrors.ErrInternal },
	})
	c, w = newGinContext(http.MethodGet, "/ready", nil)
	h.Ready(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	c, w = newGinContext(http.MethodGet, "/metrics", nil)
	h.Prometheus(c)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBookingHandlerAuditTrail(t *testing.T) {
	svc := &bookingServiceMock{}
	h := NewBookingHandler(svc, &exporterMock{}, linkerMock{})

	c, w := newGinContext(http.MethodGet, "/bookings/req-1/audit", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	withActor(c, models.Actor{UserID: "admin-1", Role: models.RoleSuperAdmin})
	h.AuditTrail(c)
	require.Equal(t, http.StatusOK, w.Code)

	var logs []models.AuditLog
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, w).Data, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, models.AuditActionBookingSubmit, logs[0].Action)

	c, w = newGinContext(http.MethodGet, "/bookings/req-1/audit", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	withActor(c, models.Actor{UserID: "fmo-1", Role: models.RoleFacilityAdmin})
	h.AuditTrail(c)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
