package runtime

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jingkaihe/skillc/pkg/config"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func manifestFor(skill, hash string) *Manifest {
	return &Manifest{
		Skill:      skill,
		Version:    ManifestVersion,
		BuiltAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		SourceHash: hash,
		SourcePath: "/src/" + skill,
		Scope:      config.ScopeGlobal,
		StubBytes:  4,
		StubLines:  1,
	}
}

func publish(t *testing.T, s *Store, skill, stub, hash string) {
	t.Helper()
	ctx := context.Background()
	unlock, err := s.Lock(ctx, skill)
	require.NoError(t, err)
	defer unlock()

	st, err := s.Stage(skill)
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact([]byte(stub), manifestFor(skill, hash)))
	require.NoError(t, st.Publish(ctx))
}

func TestPublishAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), config.ScopeGlobal)

	m, err := s.LoadManifest(ctx, "pdf")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.False(t, s.HasStub("pdf"))

	publish(t, s, "pdf", "v1", "aaa")
	m, err = s.LoadManifest(ctx, "pdf")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "aaa", m.SourceHash)
	assert.True(t, s.HasStub("pdf"))

	publish(t, s, "pdf", "v2", "bbb")
	data, err := os.ReadFile(filepath.Join(s.EntryDir("pdf"), StubFile))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	leftovers, err := os.ReadDir(filepath.Join(s.Root(), stagingDir))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestInterruptedPublishKeepsPriorEntry(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), config.ScopeGlobal)
	publish(t, s, "pdf", "v1", "aaa")

	t.Run("before publish", func(t *testing.T) {
		unlock, err := s.Lock(ctx, "pdf")
		require.NoError(t, err)
		st, err := s.Stage("pdf")
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), StubFile), []byte("half"), 0o644))
		// crash: neither Publish nor Abort runs
		unlock()

		m, err := s.LoadManifest(ctx, "pdf")
		require.NoError(t, err)
		assert.Equal(t, "aaa", m.SourceHash)
	})

	t.Run("between renames", func(t *testing.T) {
		interruptHook = func() error { return errors.New("simulated crash") }
		defer func() { interruptHook = nil }()

		unlock, err := s.Lock(ctx, "pdf")
		require.NoError(t, err)
		st, err := s.Stage("pdf")
		require.NoError(t, err)
		require.NoError(t, st.WriteArtifact([]byte("v2"), manifestFor("pdf", "bbb")))
		require.Error(t, st.Publish(ctx))
		unlock()

		assert.NoDirExists(t, s.EntryDir("pdf"), "live entry was moved aside")
		interruptHook = nil

		unlock, err = s.Lock(ctx, "pdf")
		require.NoError(t, err)
		unlock()

		data, err := os.ReadFile(filepath.Join(s.EntryDir("pdf"), StubFile))
		require.NoError(t, err)
		assert.Equal(t, "v1", string(data))
		m, err := s.LoadManifest(ctx, "pdf")
		require.NoError(t, err)
		assert.Equal(t, "aaa", m.SourceHash)

		stale, _ := filepath.Glob(filepath.Join(s.Root(), stagingDir, "pdf.tmp-*"))
		assert.Empty(t, stale, "abandoned staging dirs are cleaned up under the lock")
	})
}

func TestInterruptedFirstPublishLeavesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), config.ScopeGlobal)

	unlock, err := s.Lock(ctx, "new")
	require.NoError(t, err)
	st, err := s.Stage("new")
	require.NoError(t, err)
	require.NoError(t, st.WriteArtifact([]byte("x"), manifestFor("new", "h")))
	st.Abort()
	unlock()

	assert.NoDirExists(t, s.EntryDir("new"))
	m, err := s.LoadManifest(ctx, "new")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestLockSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := NewStore(t.TempDir(), config.ScopeGlobal)

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := s.Lock(ctx, "pdf")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				cur := atomic.LoadInt32(&maxInside)
				if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}

func TestLoadManifestCorrupt(t *testing.T) {
	s := NewStore(t.TempDir(), config.ScopeGlobal)
	meta := filepath.Join(s.EntryDir("bad"), config.MetaDir)
	require.NoError(t, os.MkdirAll(meta, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(meta, ManifestFile), []byte("{nope"), 0o644))

	m, err := s.LoadManifest(context.Background(), "bad")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestList(t *testing.T) {
	s := NewStore(t.TempDir(), config.ScopeGlobal)
	entries, err := s.List("")
	require.NoError(t, err)
	assert.Empty(t, entries)

	publish(t, s, "pdf-tools", "a", "1")
	publish(t, s, "pdf-extra", "b", "2")
	publish(t, s, "git", "c", "3")

	entries, err = s.List("")
	require.NoError(t, err)
	require.Len(t, entries, 3, "lock and staging dirs are hidden")
	assert.Equal(t, "git", entries[0].Skill)

	entries, err = s.List("pdf-*")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "pdf-extra", entries[0].Skill)
	assert.Equal(t, "2", entries[0].Manifest.SourceHash)

	_, err = s.List("[")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	s := NewStore(t.TempDir(), config.ScopeGlobal)
	publish(t, s, "pdf", "a", "1")
	require.NoError(t, s.Remove(context.Background(), "pdf"))
	assert.NoDirExists(t, s.EntryDir("pdf"))
}

func TestIndexFileName(t *testing.T) {
	a := IndexFileName("/skills/pdf")
	assert.Equal(t, a, IndexFileName("/skills/pdf/"))
	assert.NotEqual(t, a, IndexFileName("/skills/git"))
	assert.Regexp(t, `^search-[0-9a-f]{16}\.db$`, a)
	assert.Equal(t, filepath.Join("/rt/pdf", config.MetaDir, a), IndexPath("/rt/pdf", "/skills/pdf"))
}

func TestManifestSchema(t *testing.T) {
	schema := ManifestSchema()
	require.NotNil(t, schema)
	require.NotNil(t, schema.Properties)
	_, ok := schema.Properties.Get("source_hash")
	assert.True(t, ok)
}
