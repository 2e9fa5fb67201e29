// Package correlate maps a client-supplied ident back to the pool
// endpoint awaiting its daemon verdict (spec.md §4.2). There is no
// separate index structure: the "table" is a linear scan over the
// pool, performed under the pool's own mutex, matching the original's
// "scan all slots" correlation strategy at N ≤ a few dozen.
package correlate

import "github.com/qubesproject/qrexec-trigger-server/errors"

// ErrNotFound is returned by Lookup when no endpoint is currently
// waiting on the given ident.
var ErrNotFound = errors.New("correlate: ident not found")

// Source is the subset of endpoint.Pool that Lookup needs: the
// endpoint count and a locked-state accessor, kept narrow so
// internal/correlate has no import-cycle dependency on
// internal/endpoint's concrete types.
type Source interface {
	NumEndpoints() int
	IdentAt(idx int) string
}

// LookupLocked scans src for the endpoint whose recorded ident
// matches want, returning its index. The caller must already hold
// src's pool mutex — this function performs no locking of its own,
// matching spec.md §4.2's "guarded by pool_mutex" note (the lock is
// the caller's responsibility since the scan result is only valid for
// as long as the lock is held).
func LookupLocked(src Source, want string) (int, error) {
	for i := 0; i < src.NumEndpoints(); i++ {
		if ident := src.IdentAt(i); ident != "" && ident == want {
			return i, nil
		}
	}
	return -1, ErrNotFound
}
