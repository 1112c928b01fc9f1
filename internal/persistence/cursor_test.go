package persistence

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/reserve/internal/domain"
)

func TestCursorRoundTrip(t *testing.T) {
	token := EncodeCursor(&domain.Cursor{Seq: 42, ID: "act|with|pipes"})
	c, err := DecodeCursor(token)
	require.NoError(t, err)
	require.Equal(t, &domain.Cursor{Seq: 42, ID: "act|with|pipes"}, c)
}

func TestCursorEmpty(t *testing.T) {
	require.Empty(t, EncodeCursor(nil))
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)
}

func TestCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("no-separator")))
	require.ErrorContains(t, err, "invalid cursor format")

	_, err = DecodeCursor(base64.URLEncoding.EncodeToString([]byte("x|act")))
	require.ErrorContains(t, err, "invalid cursor sequence")
}
