package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendFactory func(t *testing.T) Store

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "results"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisStoreFromClient(client, "test:")
		},
	}
}

func TestStore_Contract(t *testing.T) {
	storedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t)

			got, err := s.Get(ctx, "missing")
			require.NoError(t, err)
			assert.Nil(t, got, "missing record must be nil, not an error")

			require.NoError(t, s.Put(ctx, Record{Task: "b", Fingerprint: "fp-b", Output: []byte(`10`), StoredAt: storedAt}))
			require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "fp-a", Output: []byte(`"hello"`), StoredAt: storedAt}))

			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "a", got.Task)
			assert.Equal(t, "fp-a", got.Fingerprint)
			assert.Equal(t, `"hello"`, string(got.Output))
			assert.True(t, storedAt.Equal(got.StoredAt))

			// Overwrite replaces the record.
			require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "fp-a2", Output: []byte(`[1,2]`), StoredAt: storedAt}))
			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, "fp-a2", got.Fingerprint)
			assert.Equal(t, `[1,2]`, string(got.Output))

			infos, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "a", infos[0].Task)
			assert.Equal(t, int64(5), infos[0].Size)
			assert.Equal(t, "b", infos[1].Task)
			assert.Equal(t, "fp-b", infos[1].Fingerprint)

			require.NoError(t, s.Delete(ctx, "a"))
			require.NoError(t, s.Delete(ctx, "a"), "deleting a missing record is not an error")
			got, err = s.Get(ctx, "a")
			require.NoError(t, err)
			assert.Nil(t, got)

			infos, err = s.List(ctx)
			require.NoError(t, err)
			require.Len(t, infos, 1)
			assert.Equal(t, "b", infos[0].Task)

			assert.NoError(t, s.Close())
		})
	}
}

func TestStore_RejectsIncompleteRecords(t *testing.T) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			assert.Error(t, s.Put(context.Background(), Record{Task: "", Fingerprint: "x"}))
			assert.Error(t, s.Put(context.Background(), Record{Task: "a"}))
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	out := []byte("abc")
	require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "f", Output: out}))
	out[0] = 'X'

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got.Output))
	got.Output[0] = 'Y'

	again, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again.Output))
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "results")
	ctx := context.Background()

	s1, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, Record{Task: "c", Fingerprint: "fp", Output: []byte(`11`), StoredAt: time.Now()}))

	s2, err := NewFileStore(root)
	require.NoError(t, err)
	got, err := s2.Get(ctx, "c")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "11", string(got.Output))
}

func TestFileStore_EscapesAwkwardNames(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	for _, name := range []string{".hidden", "with space", "a:b", "100%"} {
		require.NoError(t, s.Put(ctx, Record{Task: name, Fingerprint: "fp", Output: []byte(`1`)}))
		got, err := s.Get(ctx, name)
		require.NoError(t, err)
		require.NotNil(t, got, name)
		assert.Equal(t, name, got.Task)
	}

	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, infos, 4)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, '.', e.Name()[0], "entry %q looks like a staging dir", e.Name())
	}
}

func TestFileStore_DetectsCorruptOutput(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "fp", Output: []byte(`12345`)}))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", outputFile), []byte(`99999`), 0o644))

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCorruptRecord)
}

func TestFileStore_DetectsCorruptMetadata(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "fp", Output: []byte(`1`)}))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", recordFile), []byte(`{not json`), 0o644))

	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCorruptRecord)

	infos, err := s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestFileStore_IgnoresStagingDirs(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileStore(root)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(root, stagingPre+"123"), 0o755))

	infos, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestSQLiteStore_MigrationsApplied(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	defer s.Close()

	v, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	// Reopening is idempotent.
	require.NoError(t, s.Close())
	s2, err := NewSQLiteStore(s.Path())
	require.NoError(t, err)
	defer s2.Close()
	v, err = s2.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestSQLiteStore_RefusesNewerSchema(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	_, err = s.db.Exec(`PRAGMA user_version = 99`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = NewSQLiteStore(s.Path())
	assert.ErrorContains(t, err, "newer than this build supports")
}

func TestRedisStore_FromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	s, err := NewRedisStore(ctx, "redis://"+mr.Addr(), "")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(ctx, Record{Task: "a", Fingerprint: "fp", Output: []byte(`1`)}))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"result:a"))
	members, err := mr.Members(DefaultRedisPrefix + "results")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, members)
}

func TestRedisStore_UnreachableServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisStore(context.Background(), "redis://"+addr, "")
	assert.Error(t, err)
}

func TestOpen_SelectsBackend(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()

	s, err := Open(ctx, Config{Root: root})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(ctx, Config{Backend: BackendSQLite, Root: root})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Config{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open(ctx, Config{Backend: BackendRedis})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Backend: "s3"})
	assert.Error(t, err)
}
