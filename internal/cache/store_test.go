package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/radar-cache/internal/radar"
)

var pomona = radar.Location{Suburb: "Pomona", State: "QLD"}

func newTestStore(t *testing.T, cfg Config) *Store {
	t.Helper()
	cfg.Root = t.TempDir()
	if cfg.FrameCounts == nil {
		cfg.FrameCounts = map[radar.DataType]int{radar.DataTypeRadar: 3}
	}
	s, err := NewStore(cfg, zerolog.Nop())
	require.NoError(t, err)
	return s
}

// frameTimes returns n observation times spaced five minutes apart, ending at obs.
func frameTimes(obs time.Time, n int) []time.Time {
	times := make([]time.Time, n)
	for i := 0; i < n; i++ {
		times[i] = obs.Add(-time.Duration(n-1-i) * 5 * time.Minute)
	}
	return times
}

// publishFolder writes a complete radar folder captured at capturedAt.
func publishFolder(t *testing.T, s *Store, loc radar.Location, capturedAt, obs time.Time, times []time.Time) radar.CacheFolder {
	t.Helper()
	st, err := s.Begin(loc, capturedAt)
	require.NoError(t, err)

	meta := FramesMetadata{ObservationTime: obs, WeatherStation: "Gympie"}
	for i, ft := range times {
		require.NoError(t, st.WriteFrame(radar.DataTypeRadar, i, []byte("png")))
		meta.Frames = append(meta.Frames, FrameMetadata{FrameIndex: i, ObservationTime: ft})
	}
	require.NoError(t, st.WriteMetadata(radar.DataTypeRadar, meta))

	folder, err := st.Publish()
	require.NoError(t, err)
	return folder
}

func TestFolderNameRoundTrip(t *testing.T) {
	loc := radar.Location{Suburb: "Sunshine Coast", State: "qld"}
	ts := time.Date(2025, 12, 7, 0, 9, 6, 0, time.UTC)

	name := FolderName(loc, ts)
	assert.Equal(t, "sunshine-coast_QLD_20251207_000906", name)

	parsed, ok := parseFolderName(loc, name)
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))

	_, ok = parseFolderName(pomona, name)
	assert.False(t, ok)
	_, ok = parseFolderName(loc, "sunshine-coast_QLD_garbage")
	assert.False(t, ok)
}

func TestIsCompleteRequiresEveryFrameAndMetadata(t *testing.T) {
	s := newTestStore(t, Config{})
	st, err := s.Begin(pomona, time.Now())
	require.NoError(t, err)

	assert.False(t, st.IsComplete(radar.DataTypeRadar), "empty folder")

	require.NoError(t, st.WriteFrame(radar.DataTypeRadar, 0, []byte("a")))
	require.NoError(t, st.WriteFrame(radar.DataTypeRadar, 2, []byte("c")))
	require.NoError(t, st.WriteMetadata(radar.DataTypeRadar, FramesMetadata{}))
	assert.False(t, st.IsComplete(radar.DataTypeRadar), "frame 1 missing")

	require.NoError(t, st.WriteFrame(radar.DataTypeRadar, 1, []byte("b")))
	assert.True(t, st.IsComplete(radar.DataTypeRadar))

	require.NoError(t, os.Remove(metadataFilePath(st.Dir(), radar.DataTypeRadar)))
	assert.False(t, st.IsComplete(radar.DataTypeRadar), "metadata missing")
}

func TestIsCompleteToleratesMissingPaths(t *testing.T) {
	s := newTestStore(t, Config{})
	assert.False(t, s.IsComplete("", radar.DataTypeRadar))
	assert.False(t, s.IsComplete(filepath.Join(s.Root(), "nope"), radar.DataTypeRadar))
}

func TestFrameCountDefault(t *testing.T) {
	s := newTestStore(t, Config{FrameCounts: map[radar.DataType]int{}})
	assert.Equal(t, DefaultFrameCount, s.FrameCount(radar.DataTypeRadar))
}

func TestStagingIsInvisibleUntilPublished(t *testing.T) {
	s := newTestStore(t, Config{})
	now := time.Date(2025, 12, 7, 0, 10, 0, 0, time.UTC)

	st, err := s.Begin(pomona, now)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, st.WriteFrame(radar.DataTypeRadar, i, []byte("x")))
	}
	require.NoError(t, st.WriteMetadata(radar.DataTypeRadar, FramesMetadata{ObservationTime: now}))

	folders, err := s.Folders(pomona)
	require.NoError(t, err)
	assert.Empty(t, folders)

	published, err := st.Publish()
	require.NoError(t, err)
	assert.True(t, published.IsComplete)
	assert.Equal(t, []radar.DataType{radar.DataTypeRadar}, published.AvailableDataTypes)

	folders, err = s.Folders(pomona)
	require.NoError(t, err)
	require.Len(t, folders, 1)
	assert.Equal(t, "pomona_QLD_20251207_001000", folders[0].FolderName)

	assert.NoError(t, st.Discard(), "discard after publish is a no-op")
	assert.DirExists(t, folders[0].Path)
}

func TestPublishRejectsDuplicateKey(t *testing.T) {
	s := newTestStore(t, Config{})
	ts := time.Date(2025, 12, 7, 0, 10, 0, 0, time.UTC)
	publishFolder(t, s, pomona, ts, ts, frameTimes(ts, 3))

	st, err := s.Begin(pomona, ts)
	require.NoError(t, err)
	_, err = st.Publish()
	require.ErrorIs(t, err, ErrFolderExists)
	require.NoError(t, st.Discard())
	assert.NoDirExists(t, st.Dir())
}

func TestLatestAndFramePath(t *testing.T) {
	s := newTestStore(t, Config{})
	t0 := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	publishFolder(t, s, pomona, t0, t0, frameTimes(t0, 3))
	newest := publishFolder(t, s, pomona, t0.Add(10*time.Minute), t0.Add(10*time.Minute), frameTimes(t0.Add(10*time.Minute), 3))

	folder, frames, err := s.Latest(pomona, radar.DataTypeRadar)
	require.NoError(t, err)
	assert.Equal(t, newest.FolderName, folder.FolderName)
	assert.Equal(t, "Gympie", folder.WeatherStation)
	require.Len(t, frames, 3)
	for i, fr := range frames {
		assert.Equal(t, i, fr.Index)
		assert.NotNil(t, fr.Radar)
	}
	assert.True(t, frames[2].ObservationTime.Equal(t0.Add(10*time.Minute)))

	path, err := s.FramePath(pomona, "", radar.DataTypeRadar, 1)
	require.NoError(t, err)
	assert.Equal(t, frameFilePath(newest.Path, radar.DataTypeRadar, 1), path)

	_, err = s.FramePath(pomona, "", radar.DataTypeRadar, 3)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FramePath(pomona, "../etc", radar.DataTypeRadar, 0)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.FramePath(radar.Location{Suburb: "Noosa", State: "QLD"}, newest.FolderName, radar.DataTypeRadar, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestNotFound(t *testing.T) {
	s := newTestStore(t, Config{})
	_, _, err := s.Latest(pomona, radar.DataTypeRadar)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := newTestStore(t, Config{})
	other := radar.Location{Suburb: "Noosa Heads", State: "QLD"}
	ts := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	publishFolder(t, s, pomona, ts, ts, frameTimes(ts, 3))
	publishFolder(t, s, other, ts, ts, frameTimes(ts, 3))
	abandoned, err := s.Begin(pomona, ts.Add(time.Minute))
	require.NoError(t, err)

	deleted, err := s.Delete(pomona)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoDirExists(t, abandoned.Dir())

	folders, err := s.Folders(other)
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	deleted, err = s.Delete(pomona)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestEvictByCountKeepsNewestComplete(t *testing.T) {
	s := newTestStore(t, Config{MaxFolders: 2})
	t0 := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		ts := t0.Add(time.Duration(i) * 5 * time.Minute)
		publishFolder(t, s, pomona, ts, ts, frameTimes(ts, 3))
	}

	removed, err := s.Evict(pomona)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	folders, err := s.Folders(pomona)
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, FolderName(pomona, t0.Add(10*time.Minute)), folders[0].FolderName)
	assert.Equal(t, FolderName(pomona, t0.Add(15*time.Minute)), folders[1].FolderName)
}

func TestEvictByAge(t *testing.T) {
	s := newTestStore(t, Config{MaxAge: time.Hour})
	now := time.Date(2025, 12, 7, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := now.Add(-3 * time.Hour)
	publishFolder(t, s, pomona, old, old, frameTimes(old, 3))
	older := now.Add(-2 * time.Hour)
	publishFolder(t, s, pomona, older, older, frameTimes(older, 3))
	fresh := now.Add(-10 * time.Minute)
	publishFolder(t, s, pomona, fresh, fresh, frameTimes(fresh, 3))

	removed, err := s.Evict(pomona)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// Even an expired folder survives when it is the only complete one.
	require.NoError(t, os.RemoveAll(filepath.Join(s.Root(), FolderName(pomona, fresh))))
	publishFolder(t, s, pomona, old, old, frameTimes(old, 3))
	removed, err = s.Evict(pomona)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}

func TestCleanStaging(t *testing.T) {
	s := newTestStore(t, Config{})
	st, err := s.Begin(pomona, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.CleanStaging())
	assert.NoDirExists(t, st.Dir())
}
