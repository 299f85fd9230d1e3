package storage

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStorage(t *testing.T) *LocalStorage {
	t.Helper()
	s, err := NewLocalStorage(LocalConfig{BasePath: t.TempDir()}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return s
}

func TestLocalStorage_PutGet(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStorage(t)
	key := SnapshotKey(uuid.New(), time.Date(2026, time.June, 3, 12, 0, 0, 0, time.UTC))

	require.NoError(t, s.Put(ctx, key, strings.NewReader(`{"requests":3}`), PutOptions{}))

	err := s.Put(ctx, key, strings.NewReader(`{}`), PutOptions{})
	assert.True(t, IsKeyExists(err))

	require.NoError(t, s.Put(ctx, key, strings.NewReader(`{"requests":4}`), PutOptions{Overwrite: true}))

	rc, info, err := s.Get(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"requests":4}`, string(body))
	assert.Equal(t, int64(len(body)), info.Size)

	exists, err := s.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, s.Delete(ctx, key))
	require.NoError(t, s.Delete(ctx, key))

	_, _, err = s.Get(ctx, key)
	assert.True(t, IsNotFound(err))
}

func TestLocalStorage_List(t *testing.T) {
	ctx := context.Background()
	s := newTestLocalStorage(t)
	tenant := uuid.New()
	day := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)

	for i := 2; i >= 0; i-- {
		key := SnapshotKey(tenant, day.AddDate(0, 0, i))
		require.NoError(t, s.Put(ctx, key, strings.NewReader("{}"), PutOptions{}))
	}
	require.NoError(t, s.Put(ctx, SnapshotKey(uuid.New(), day), strings.NewReader("{}"), PutOptions{}))

	keys, err := s.List(ctx, SnapshotPrefix(tenant))
	require.NoError(t, err)
	require.Len(t, keys, 3)
	assert.Equal(t, SnapshotKey(tenant, day), keys[0])

	keys, err = s.List(ctx, SnapshotPrefix(uuid.New()))
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestLocalStorage_RejectsTraversal(t *testing.T) {
	s := newTestLocalStorage(t)
	err := s.Put(context.Background(), "../escape.json", strings.NewReader("{}"), PutOptions{})
	assert.True(t, IsInvalidKey(err))
}

func TestLocalStorage_MaxSize(t *testing.T) {
	s := newTestLocalStorage(t)
	err := s.Put(context.Background(), "big.json", strings.NewReader(strings.Repeat("x", 20)), PutOptions{MaxSize: 10})
	assert.True(t, IsTooLarge(err))

	exists, err := s.Exists(context.Background(), "big.json")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSnapshotDayFromKey(t *testing.T) {
	id := uuid.New()
	day := time.Date(2026, time.June, 3, 0, 0, 0, 0, time.UTC)

	got, err := SnapshotDayFromKey(SnapshotKey(id, day))
	require.NoError(t, err)
	assert.True(t, day.Equal(got))

	for _, key := range []string{
		"snapshots/" + id.String() + "/2026/06.json",
		"reports/" + id.String() + "/2026/06/03.json",
		"snapshots/" + id.String() + "/2026/13/03.json",
	} {
		_, err := SnapshotDayFromKey(key)
		assert.True(t, IsInvalidKey(err), key)
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"invalid key", &StorageError{Op: "Get", Key: "../x", Err: ErrInvalidKey}, true},
		{"too large", &StorageError{Op: "Put", Key: "a", Err: ErrTooLarge}, true},
		{"access denied", &StorageError{Op: "Put", Key: "a", Err: ErrAccessDenied}, true},
		{"not found", &StorageError{Op: "Get", Key: "a", Err: ErrNotFound}, false},
		{"network", &StorageError{Op: "Put", Key: "a", Err: context.DeadlineExceeded}, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}
