package sdb

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateStreamAllocatesBackingFile(t *testing.T) {
	db := openTestDB(t)
	sid, err := db.CreateStream("text/plain")
	require.NoError(t, err)
	require.NotZero(t, sid)

	meta, err := db.StreamMetaOf(sid)
	require.NoError(t, err)
	require.Equal(t, "text/plain", meta.Mime)
	require.Equal(t, "txt", meta.Suffix)

	_, err = os.Stat(db.StreamPath(sid))
	require.NoError(t, err)
}

func TestStreamSidsAreDistinct(t *testing.T) {
	db := openTestDB(t)
	sid1, err := db.CreateStream("text/plain")
	require.NoError(t, err)
	sid2, err := db.CreateStream("image/png")
	require.NoError(t, err)
	require.NotEqual(t, sid1, sid2)
}

func TestStreamWriteLockExcludesReaders(t *testing.T) {
	db := openTestDB(t)
	sid, err := db.CreateStream("text/plain")
	require.NoError(t, err)

	require.True(t, db.AcquireStreamWrite(sid))
	require.False(t, db.AcquireStreamWrite(sid))
	require.False(t, db.AcquireStreamRead(sid))

	db.ReleaseStreamWrite(sid)
	require.True(t, db.AcquireStreamRead(sid))
	db.ReleaseStreamRead(sid)
}

func TestStreamMultipleReadersAllowed(t *testing.T) {
	db := openTestDB(t)
	sid, err := db.CreateStream("text/plain")
	require.NoError(t, err)

	require.True(t, db.AcquireStreamRead(sid))
	require.True(t, db.AcquireStreamRead(sid))
	require.False(t, db.AcquireStreamWrite(sid))
	db.ReleaseStreamRead(sid)
	db.ReleaseStreamRead(sid)
	require.True(t, db.AcquireStreamWrite(sid))
	db.ReleaseStreamWrite(sid)
}

func TestStreamWriteReleaseNotifies(t *testing.T) {
	db := openTestDB(t)
	obs := &recordingObserver{}
	db.AddObserver(obs)

	sid, err := db.CreateStream("text/plain")
	require.NoError(t, err)
	require.True(t, db.AcquireStreamWrite(sid))
	db.ReleaseStreamWrite(sid)

	var found bool
	for _, e := range obs.events {
		if e.Kind == StreamChanged && e.ID == uint64(sid) {
			found = true
		}
	}
	require.True(t, found)
}

func TestRemoveStreamDeletesMetaAndFile(t *testing.T) {
	db := openTestDB(t)
	sid, err := db.CreateStream("text/plain")
	require.NoError(t, err)
	path := db.StreamPath(sid)

	require.NoError(t, db.RemoveStream(sid))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))

	_, err = db.StreamMetaOf(sid)
	require.ErrorIs(t, err, ErrUnknownId)
}
