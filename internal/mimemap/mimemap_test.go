package mimemap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuiltinSuffixToMime(t *testing.T) {
	tbl := New()
	require.Equal(t, "image/png", tbl.SuffixToMime("png"))
	require.Equal(t, "image/png", tbl.SuffixToMime("PNG"), "lookups are case-insensitive")
}

func TestUnknownSuffixIsEmpty(t *testing.T) {
	tbl := New()
	require.Empty(t, tbl.SuffixToMime("doesnotexist"))
}

func TestOverrideWinsOverBuiltin(t *testing.T) {
	tbl := New()
	tbl.Set("txt", "application/x-custom-text")
	require.Equal(t, "application/x-custom-text", tbl.SuffixToMime("txt"))
}

func TestMimeToSuffixBuiltin(t *testing.T) {
	tbl := New()
	suffix := tbl.MimeToSuffix("application/json")
	require.Equal(t, "json", suffix)
}

func TestMimeToSuffixPrefersOverride(t *testing.T) {
	tbl := New()
	tbl.Set("txt2", "text/plain")
	suffix := tbl.MimeToSuffix("text/plain")
	require.Equal(t, "txt2", suffix)
}

func TestMimeToSuffixUnknownIsEmpty(t *testing.T) {
	tbl := New()
	require.Empty(t, tbl.MimeToSuffix("application/x-nonexistent"))
}
