package correlate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	idents []string
}

func (f fakeSource) NumEndpoints() int      { return len(f.idents) }
func (f fakeSource) IdentAt(idx int) string { return f.idents[idx] }

func TestLookupLockedFindsMatchingIdent(t *testing.T) {
	src := fakeSource{idents: []string{"", "3", "1"}}

	idx, err := LookupLocked(src, "1")
	require.NoError(t, err)
	require.Equal(t, 2, idx)
}

func TestLookupLockedReturnsNotFound(t *testing.T) {
	src := fakeSource{idents: []string{"", "3"}}

	_, err := LookupLocked(src, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookupLockedIgnoresEmptyIdentSlots(t *testing.T) {
	src := fakeSource{idents: []string{"", "", ""}}

	_, err := LookupLocked(src, "")
	require.ErrorIs(t, err, ErrNotFound)
}
