package sdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// openTestDB opens a fresh database under the test's temp dir, closed
// automatically on cleanup.
func openTestDB(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.sdb")
	db, err := Open(path, DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type recordingObserver struct {
	events []UpdateInfo
}

func (r *recordingObserver) Notify(u UpdateInfo) { r.events = append(r.events, u) }

type panickingObserver struct{}

func (panickingObserver) Notify(UpdateInfo) { panic("boom") }
