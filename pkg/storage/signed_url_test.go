package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("user-1", "2026/10/letter.pdf")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	grant, err := signer.Parse(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", grant.Subject)
	require.Equal(t, "2026/10/letter.pdf", grant.Name)
	require.WithinDuration(t, expiresAt, grant.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("user-1", "letter.pdf")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = signer.Parse(token)
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestSignedURLSignerTampered(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	token, _, err := signer.Generate("user-1", "letter.pdf")
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	parts[1] = "9999999999"
	_, err = signer.Parse(strings.Join(parts, "."))
	require.ErrorIs(t, err, ErrTokenSignature)

	_, err = NewSignedURLSigner("other", time.Minute).Parse(token)
	require.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Parse("garbage")
	require.ErrorIs(t, err, ErrTokenMalformed)
}
