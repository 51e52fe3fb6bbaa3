package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/icrrus-api/internal/models"
	appErrors "github.com/noah-isme/icrrus-api/pkg/errors"
)

func newTestAuthService() *AuthService {
	return NewAuthService(nil, AuthConfig{
		AccessTokenSecret: "test-secret",
		AccessTokenExpiry: time.Minute,
		Issuer:            "icrrus-idp",
	})
}

func TestAuthServiceRoundTrip(t *testing.T) {
	svc := newTestAuthService()
	token, expiresAt, err := svc.IssueToken(chairCTHM, "Dr. Reyes")
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, chairCTHM, claims.Actor())
	assert.Equal(t, "Dr. Reyes", claims.FullName)
}

func TestAuthServiceRejectsBadTokens(t *testing.T) {
	svc := newTestAuthService()

	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other-secret", Issuer: "icrrus-idp"})
	forged, _, err := other.IssueToken(fmo, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(forged)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	wrongIssuer := NewAuthService(nil, AuthConfig{AccessTokenSecret: "test-secret", Issuer: "elsewhere"})
	token, _, err := wrongIssuer.IssueToken(fmo, "")
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	unknownRole := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: "u-1",
		Role:   "JANITOR",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "icrrus-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
		},
	})
	signed, err := unknownRole.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	stale := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JWTClaims{
		UserID: "u-1",
		Role:   models.RoleFacilityAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "icrrus-idp",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err = stale.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(signed)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}
