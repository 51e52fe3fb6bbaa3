package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/icrrus-api/internal/dto"
	"github.com/noah-isme/icrrus-api/internal/models"
	"github.com/noah-isme/icrrus-api/internal/workflow"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
	"github.com/noah-isme/icrrus-api/pkg/storage"
)

const sniffLength = 512

var artifactExtensions = map[string]string{
	"application/pdf": ".pdf",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
}

type artifactStorage interface {
	SaveStream(name string, r io.Reader, limit int64) (int64, error)
	Open(name string) (*os.File, error)
	Exists(name string) bool
}

type urlSigner interface {
	Generate(subject, name string) (string, time.Time, error)
	Parse(token string) (storage.Grant, error)
}

// ArtifactConfig tunes upload limits and download links.
type ArtifactConfig struct {
	APIPrefix    string
	MaxFileSize  int64
	AllowedMIMEs []string
}

// ArtifactService stores endorsement letters and letters of intent and hands
// out signed download links for them.
type ArtifactService struct {
	storage artifactStorage
	signer  urlSigner
	audit   auditLogger
	cfg     ArtifactConfig
	allowed map[string]struct{}
	logger  *zap.Logger
}

// NewArtifactService constructs the service.
func NewArtifactService(store artifactStorage, signer urlSigner, audit auditLogger, cfg ArtifactConfig, logger *zap.Logger) *ArtifactService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 10 << 20
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"application/pdf", "image/png", "image/jpeg"}
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mime := range cfg.AllowedMIMEs {
		allowed[strings.ToLower(strings.TrimSpace(mime))] = struct{}{}
	}
	return &ArtifactService{storage: store, signer: signer, audit: audit, cfg: cfg, allowed: allowed, logger: logger}
}

// Upload stores r as an artifact owned by actor. The content type is sniffed
// from the payload rather than trusted from the client.
func (s *ArtifactService) Upload(ctx context.Context, actor models.Actor, kind models.ArtifactKind, r io.Reader) (*dto.ArtifactResponse, error) {
	if _, ok := workflow.CategoryForRole(actor.Role); !ok {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only requesters upload supporting documents")
	}
	if kind != models.ArtifactEndorsementLetter && kind != models.ArtifactLetterOfIntent {
		return nil, appErrors.Clone(appErrors.ErrValidation, "kind must be ENDORSEMENT_LETTER or LETTER_OF_INTENT")
	}

	head := make([]byte, sniffLength)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if n == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is empty")
	}
	head = head[:n]
	contentType := strings.ToLower(strings.SplitN(http.DetectContentType(head), ";", 2)[0])
	if _, ok := s.allowed[contentType]; !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file type %s is not allowed", contentType))
	}

	ref := fmt.Sprintf("%s/%s%s", sanitizeSegment(actor.UserID), uuid.NewString(), artifactExtensions[contentType])
	size, err := s.storage.SaveStream(ref, io.MultiReader(bytes.NewReader(head), r), s.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			return nil, appErrors.Clone(appErrors.ErrTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store file")
	}

	resp, err := s.link(actor.UserID, ref)
	if err != nil {
		return nil, err
	}
	resp.Kind = kind
	resp.ContentType = contentType
	resp.Size = size

	s.emitAudit(ctx, actor.UserID, ref, map[string]interface{}{
		"kind":        kind,
		"contentType": contentType,
		"size":        size,
	})
	s.logger.Info("artifact stored", zap.String("ref", ref), zap.String("user_id", actor.UserID), zap.Int64("size", size))
	return resp, nil
}

// Link issues a fresh download link for ref to actor.
func (s *ArtifactService) Link(actor models.Actor, ref string) (*dto.ArtifactResponse, error) {
	if !s.storage.Exists(ref) {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "artifact not found")
	}
	return s.link(actor.UserID, ref)
}

// OwnedBy reports whether ref was stored under ownerID's upload prefix and
// still exists.
func (s *ArtifactService) OwnedBy(ownerID, ref string) bool {
	if !strings.HasPrefix(ref, sanitizeSegment(ownerID)+"/") {
		return false
	}
	return s.storage.Exists(ref)
}

// Open resolves a download token to the stored file.
func (s *ArtifactService) Open(token string) (*os.File, storage.Grant, error) {
	grant, err := s.signer.Parse(token)
	if err != nil {
		if errors.Is(err, storage.ErrTokenExpired) {
			return nil, grant, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
		}
		return nil, grant, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	file, err := s.storage.Open(grant.Name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, grant, appErrors.Clone(appErrors.ErrNotFound, "artifact not found")
		}
		return nil, grant, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open artifact")
	}
	s.logger.Debug("artifact download", zap.String("ref", grant.Name), zap.String("subject", grant.Subject))
	return file, grant, nil
}

func (s *ArtifactService) link(subject, ref string) (*dto.ArtifactResponse, error) {
	token, expiresAt, err := s.signer.Generate(subject, ref)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign download link")
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}
	return &dto.ArtifactResponse{
		Ref:         ref,
		DownloadURL: fmt.Sprintf("%s/artifacts/download?token=%s", prefix, token),
		ExpiresAt:   expiresAt,
	}, nil
}

func (s *ArtifactService) emitAudit(ctx context.Context, userID, ref string, values map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(values)
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     models.AuditActionArtifactUpload,
		Resource:   "artifact",
		ResourceID: &ref,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "artifact-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.String("action", log.Action), zap.Error(err))
	}
}

func sanitizeSegment(raw string) string {
	replacer := strings.NewReplacer("/", "-", "\\", "-", "..", "-", " ", "_")
	out := replacer.Replace(strings.TrimSpace(raw))
	if out == "" {
		return "anonymous"
	}
	if len(out) > 64 {
		return out[:64]
	}
	return out
}
