package storage

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageRoundTrip(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("a/letter.pdf", strings.NewReader("%PDF-1.4"), 1024)
	require.NoError(t, err)
	require.Equal(t, int64(8), n)
	require.True(t, store.Exists("a/letter.pdf"))

	f, err := store.Open("a/letter.pdf")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "%PDF-1.4", string(body))

	require.NoError(t, store.Delete("a/letter.pdf"))
	require.False(t, store.Exists("a/letter.pdf"))
}

func TestLocalStorageEnforcesLimit(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("big.bin", strings.NewReader(strings.Repeat("x", 11)), 10)
	require.ErrorIs(t, err, ErrTooLarge)
	require.False(t, store.Exists("big.bin"))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("../escape.txt", strings.NewReader("x"), 0)
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = store.Open("/etc/passwd")
	require.ErrorIs(t, err, ErrInvalidName)
}
