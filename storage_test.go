package casc_test

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/casc"
	"github.com/meigma/casc/buildconfig"
	"github.com/meigma/casc/cache/memory"
	"github.com/meigma/casc/internal/testutil"
	"github.com/meigma/casc/store"
	caschttp "github.com/meigma/casc/store/http"
)

func content(seed, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((i*seed + i/7) % 23)
	}
	return out
}

func zlibChunks(size int) func(testing.TB, []byte) []byte {
	return func(tb testing.TB, data []byte) []byte {
		tb.Helper()
		return testutil.ZlibBLTE(tb, data, size)
	}
}

func legacyZlib(tb testing.TB, data []byte) []byte {
	tb.Helper()
	return testutil.BuildLegacyBLTE('Z', testutil.Zlib(tb, data))
}

func encrypted(tb testing.TB, data []byte) []byte {
	tb.Helper()
	return testutil.BuildBLTE(tb, testutil.Chunk{Mode: 'E', Payload: data, DecodedSize: len(data)})
}

func fixtureFiles() []testutil.FixtureFile {
	return []testutil.FixtureFile{
		{Name: `Interface\FrameXML\UIParent.lua`, FileDataID: 100, Data: content(3, 5000)},
		{Name: `World\Maps\Azeroth\Azeroth.wdt`, FileDataID: 200, Data: content(5, 70000), Encode: zlibChunks(16384)},
		{Name: `Sound\Music\intro.mp3`, FileDataID: 300, Data: content(7, 2000), Encode: legacyZlib},
		{Name: `DBFilesClient\Map.db2`, FileDataID: 400, Data: content(11, 900), Archive: 1},
		{Name: `Secret\Encrypted.bin`, FileDataID: 500, Data: content(13, 64), Encode: encrypted},
		{Name: `Removed\Unencoded.txt`, FileDataID: 600, Data: []byte("no encoding entry"), Unencoded: true},
		{Name: `Removed\Unindexed.txt`, FileDataID: 700, Data: []byte("no index record"), Unindexed: true},
		{FileDataID: 800, Data: []byte("nameless file")},
	}
}

func openFixture(t *testing.T, opts ...casc.Option) (*casc.Storage, *testutil.Installation) {
	t.Helper()
	inst := testutil.BuildInstallation(t, fixtureFiles(), testutil.InstallationOptions{ChunkSize: 100, StaleShards: true})
	s, err := casc.Open(inst.Root, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, inst
}

func readAll(t *testing.T, f *casc.File) []byte {
	t.Helper()
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	return data
}

func TestOpenResolvesEveryLookupKind(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	for _, name := range []string{
		`Interface\FrameXML\UIParent.lua`,
		`World\Maps\Azeroth\Azeroth.wdt`,
		`Sound\Music\intro.mp3`,
		`DBFilesClient\Map.db2`,
	} {
		want := inst.File(t, name)

		f, ok, err := s.OpenName(name)
		require.NoError(t, err, name)
		require.True(t, ok, name)
		assert.Equal(t, want.ContentHash, f.ContentHash())
		assert.Equal(t, want.FileDataID, f.FileDataID())
		assert.Equal(t, int64(len(want.Data)), f.Size())
		assert.Equal(t, want.Data, readAll(t, f), name)

		f, ok, err = s.OpenFileDataID(want.FileDataID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.Data, readAll(t, f))

		f, ok, err = s.OpenHash(casc.HashName(name))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, want.Data, readAll(t, f))
	}
}

func TestOpenNameNormalizesNames(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	want := inst.File(t, `Interface\FrameXML\UIParent.lua`).Data

	for _, name := range []string{
		`interface\framexml\uiparent.lua`,
		"Interface/FrameXML/UIParent.lua",
		"INTERFACE/framexml\\UIPARENT.LUA",
	} {
		f, ok, err := s.OpenName(name)
		require.NoError(t, err)
		require.True(t, ok, name)
		assert.Equal(t, want, readAll(t, f))
	}
}

func TestOpenMisses(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t)

	f, ok, err := s.OpenName(`Does\Not\Exist.txt`)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, f)

	_, ok, err = s.OpenFileDataID(999999)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.OpenHash(0xDEADBEEF)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Open("Does/Not/Exist.txt")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestOrphansAreUnreachable(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t)
	for _, name := range []string{`Removed\Unencoded.txt`, `Removed\Unindexed.txt`} {
		_, ok, err := s.OpenName(name)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
	_, ok, err := s.OpenFileDataID(600)
	require.NoError(t, err)
	assert.False(t, ok)

	stats := s.Stats()
	assert.Equal(t, 2, stats.RootOrphans)
	assert.Equal(t, 6, stats.RootRecords)
	assert.Equal(t, 16, stats.IndexShards)
}

func TestNamelessFileByFileDataID(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t)
	data, ok, err := s.ReadFileDataID(800)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("nameless file"), data)
}

func TestEncryptedFileNotSupported(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t)
	f, ok, err := s.OpenName(`Secret\Encrypted.bin`)
	require.NoError(t, err)
	require.True(t, ok)
	defer f.Close()

	_, err = io.ReadAll(f)
	require.ErrorIs(t, err, casc.ErrNotSupported)
}

func TestFileSeekAndStat(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	name := `World\Maps\Azeroth\Azeroth.wdt`
	want := inst.File(t, name).Data

	f, ok, err := s.OpenName(name)
	require.NoError(t, err)
	require.True(t, ok)
	defer f.Close()

	_, err = f.Seek(50000, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 16)
	_, err = io.ReadFull(f, buf)
	require.NoError(t, err)
	assert.Equal(t, want[50000:50016], buf)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "Azeroth.wdt", info.Name())
	assert.Equal(t, int64(len(want)), info.Size())
	assert.False(t, info.IsDir())

	require.NoError(t, f.Close())
	_, err = f.Read(buf)
	require.ErrorIs(t, err, casc.ErrFileClosed)
}

func TestLegacySizeFallsBackToEncoding(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	name := `Sound\Music\intro.mp3`
	f, ok, err := s.OpenName(name)
	require.NoError(t, err)
	require.True(t, ok)
	defer f.Close()

	assert.Equal(t, int64(len(inst.File(t, name).Data)), f.Size())
}

func TestFS(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	name := "DBFilesClient/Map.db2"
	want := inst.File(t, `DBFilesClient\Map.db2`).Data

	data, err := fs.ReadFile(s, name)
	require.NoError(t, err)
	assert.Equal(t, want, data)

	info, err := fs.Stat(s, name)
	require.NoError(t, err)
	assert.Equal(t, "Map.db2", info.Name())
	assert.Equal(t, int64(len(want)), info.Size())

	_, err = fs.Stat(s, "nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = s.ReadFile("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = s.Open("../escape")
	require.ErrorIs(t, err, fs.ErrInvalid)
}

func TestReadFileUsesCache(t *testing.T) {
	t.Parallel()

	mc := testutil.NewMockCache()
	s, inst := openFixture(t, casc.WithCache(mc))
	name := `Interface\FrameXML\UIParent.lua`
	want := inst.File(t, name)

	data, err := s.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, want.Data, data)
	assert.Equal(t, 1, mc.Puts())

	cached, ok := mc.Get(want.ContentHash[:])
	require.True(t, ok)
	assert.Equal(t, want.Data, cached)

	data, err = s.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, want.Data, data)
	assert.Equal(t, 1, mc.Puts(), "second read is served from the cache")

	f, ok, err := s.OpenName(name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Data, readAll(t, f))
}

func TestReadFileConcurrent(t *testing.T) {
	t.Parallel()

	lru, err := memory.New(16)
	require.NoError(t, err)
	s, inst := openFixture(t, casc.WithCache(lru))
	name := `World\Maps\Azeroth\Azeroth.wdt`
	want := inst.File(t, name).Data

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Go(func() {
			data, err := s.ReadFile(name)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(data, want) {
				errs <- errors.New("content mismatch")
			}
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, lru.Len())
}

func TestConcurrentOpenSharesArchiveHandles(t *testing.T) {
	t.Parallel()

	s, inst := openFixture(t)
	var wg sync.WaitGroup
	for range 8 {
		for _, f := range inst.Files[:4] {
			wg.Go(func() {
				file, ok, err := s.OpenName(f.Name)
				if err != nil || !ok {
					return
				}
				_, _ = io.Copy(io.Discard, file)
				_ = file.Close()
			})
		}
	}
	wg.Wait()
	assert.Equal(t, 2, s.Stats().OpenArchives, "one handle per archive")
}

func TestReadFileMaxSize(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t, casc.WithMaxFileSize(1024))
	_, err := s.ReadFile(`World\Maps\Azeroth\Azeroth.wdt`)
	require.ErrorIs(t, err, casc.ErrSizeOverflow)

	data, err := s.ReadFile(`DBFilesClient\Map.db2`)
	require.NoError(t, err)
	assert.Len(t, data, 900)
}

func TestRootVariants(t *testing.T) {
	t.Parallel()

	files := []testutil.FixtureFile{
		{Name: `Locale\Strings.txt`, FileDataID: 10, Data: []byte("enUS strings")},
		{Name: `Locale\Strings.txt`, FileDataID: 10, Data: []byte("deDE strings")},
	}
	inst := testutil.BuildInstallation(t, files, testutil.InstallationOptions{})
	s, err := casc.Open(inst.Root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	recs := s.Records(`Locale\Strings.txt`)
	require.Len(t, recs, 2)
	assert.Equal(t, inst.Files[0].ContentHash, recs[0].ContentHash)
	assert.Equal(t, inst.Files[1].ContentHash, recs[1].ContentHash)

	data, err := s.ReadFile(`Locale/Strings.txt`)
	require.NoError(t, err)
	assert.Equal(t, []byte("enUS strings"), data)

	seen := 0
	for _, recs := range s.RootEntries() {
		seen += len(recs)
	}
	assert.Equal(t, 2, seen)
}

func TestOpenWithBuildConfig(t *testing.T) {
	t.Parallel()

	inst := testutil.BuildInstallation(t, fixtureFiles()[:1], testutil.InstallationOptions{})
	require.NoError(t, os.Remove(filepath.Join(inst.Root, buildconfig.BuildInfoName)))

	_, err := casc.Open(inst.Root)
	require.ErrorIs(t, err, os.ErrNotExist)

	s, err := casc.Open(inst.Root, casc.WithBuildConfig(inst.ConfigPath))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, 1, s.Stats().RootRecords)
}

func openStoreConfig(t *testing.T) (*testutil.Installation, *buildconfig.Config) {
	t.Helper()
	inst := testutil.BuildInstallation(t, fixtureFiles()[:2], testutil.InstallationOptions{})
	cfg, err := buildconfig.Load(inst.ConfigPath)
	require.NoError(t, err)
	return inst, cfg
}

func TestOpenStoreBootstrapErrors(t *testing.T) {
	t.Parallel()

	inst, cfg := openStoreConfig(t)
	dir := store.NewDir(filepath.Join(inst.DataDir, "data"))
	root := cfg.Get(buildconfig.KeyRoot)
	enc := cfg.Get(buildconfig.KeyEncoding)

	tests := []struct {
		name string
		cfg  buildconfig.Map
	}{
		{"no encoding", buildconfig.Map{buildconfig.KeyRoot: root}},
		{"no root", buildconfig.Map{buildconfig.KeyEncoding: enc}},
		{"encoding key not indexed", buildconfig.Map{
			buildconfig.KeyRoot:     root,
			buildconfig.KeyEncoding: {enc[0], strings.Repeat("ab", 16)},
		}},
		{"root not reachable", buildconfig.Map{
			buildconfig.KeyRoot:     {strings.Repeat("cd", 16)},
			buildconfig.KeyEncoding: enc,
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := casc.OpenStore(dir, tc.cfg)
			require.ErrorIs(t, err, casc.ErrNotFound)
		})
	}
}

func TestOpenStoreLoneEncodingKey(t *testing.T) {
	t.Parallel()

	inst, cfg := openStoreConfig(t)
	dir := store.NewDir(filepath.Join(inst.DataDir, "data"))
	s, err := casc.OpenStore(dir, buildconfig.Map{
		buildconfig.KeyRoot:     cfg.Get(buildconfig.KeyRoot),
		buildconfig.KeyEncoding: cfg.Get(buildconfig.KeyEncoding)[1:],
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	assert.Equal(t, 2, s.Stats().RootRecords)
}

func TestOpenMissingShard(t *testing.T) {
	t.Parallel()

	inst, cfg := openStoreConfig(t)
	dataDir := filepath.Join(inst.DataDir, "data")
	matches, err := filepath.Glob(filepath.Join(dataDir, "07*.idx"))
	require.NoError(t, err)
	for _, m := range matches {
		require.NoError(t, os.Remove(m))
	}

	_, err = casc.OpenStore(store.NewDir(dataDir), cfg)
	require.ErrorIs(t, err, casc.ErrNotFound)
}

func TestOpenStoreOverHTTP(t *testing.T) {
	t.Parallel()

	inst, cfg := openStoreConfig(t)
	dataDir := filepath.Join(inst.DataDir, "data")
	server := httptest.NewServer(nethttp.FileServer(nethttp.Dir(dataDir)))
	t.Cleanup(server.Close)

	shards, err := store.NewDir(dataDir).Glob("*.idx")
	require.NoError(t, err)
	st, err := caschttp.NewStore(server.URL, caschttp.WithIndexNames(shards...))
	require.NoError(t, err)

	s, err := casc.OpenStore(st, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, f := range inst.Files {
		data, err := s.ReadFile(strings.ReplaceAll(f.Name, `\`, "/"))
		require.NoError(t, err)
		assert.Equal(t, f.Data, data)
	}
}

func TestCloseReleasesArchives(t *testing.T) {
	t.Parallel()

	s, _ := openFixture(t)
	_, err := s.ReadFile(`Interface\FrameXML\UIParent.lua`)
	require.NoError(t, err)
	require.Positive(t, s.Stats().OpenArchives)

	require.NoError(t, s.Close())
	assert.Zero(t, s.Stats().OpenArchives)
	require.NoError(t, s.Close())

	_, err = s.ReadFile(`DBFilesClient\Map.db2`)
	require.ErrorIs(t, err, casc.ErrClosed)
}

func TestMetricsSharedRegistry(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	inst := testutil.BuildInstallation(t, fixtureFiles(), testutil.InstallationOptions{})

	first, err := casc.Open(inst.Root, casc.WithMetrics(reg))
	require.NoError(t, err)
	_, err = first.ReadFile(`Interface\FrameXML\UIParent.lua`)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	var second, third *casc.Storage
	require.NotPanics(t, func() {
		second, err = casc.Open(inst.Root, casc.WithMetrics(reg))
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NotPanics(t, func() {
		third, err = casc.Open(inst.Root, casc.WithMetrics(reg))
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = third.Close() })

	_, err = second.ReadFile(`Interface\FrameXML\UIParent.lua`)
	require.NoError(t, err)
	_, err = third.ReadFile(`Interface\FrameXML\UIParent.lua`)
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found float64
	for _, mf := range families {
		if mf.GetName() != "casc_resolutions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["kind"] == "name" && labels["outcome"] == "found" {
				found = m.GetCounter().GetValue()
			}
		}
	}
	assert.InDelta(t, 3, found, 0)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	s, _ := openFixture(t, casc.WithMetrics(reg))

	_, err := s.ReadFile(`Interface\FrameXML\UIParent.lua`)
	require.NoError(t, err)
	_, ok, err := s.OpenName("missing")
	require.NoError(t, err)
	require.False(t, ok)

	families, err := reg.Gather()
	require.NoError(t, err)
	got := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += fmt.Sprintf(",%s=%s", l.GetName(), l.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				got[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				got[key] = m.GetGauge().GetValue()
			}
		}
	}
	assert.InDelta(t, 1, got["casc_resolutions_total,kind=name,outcome=found"], 0)
	assert.InDelta(t, 1, got["casc_resolutions_total,kind=name,outcome=missing"], 0)
	assert.InDelta(t, 5000, got["casc_read_bytes_total"], 0)
	assert.InDelta(t, 1, got["casc_open_archives"], 0)
	assert.InDelta(t, 6, got["casc_table_entries,table=root"], 0)
}
