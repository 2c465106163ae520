package radar

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCache struct {
	folder CacheFolder
	frames []Frame
	series  TimeSeries
	deleted bool
	err     error
}

func (f *fakeCache) Latest(Location, DataType) (CacheFolder, []Frame, error) {
	return f.folder, f.frames, f.err
}

func (f *fakeCache) TimeSeries(Location, *time.Time, *time.Time) (TimeSeries, error) {
	return f.series, f.err
}

func (f *fakeCache) Range(Location) (CacheRange, error) { return CacheRange{}, f.err }

func (f *fakeCache) FramePath(Location, string, DataType, int) (string, error) { return "", f.err }

func (f *fakeCache) Delete(Location) (bool, error) { return f.deleted, f.err }

type fakeRefresher struct {
	tracked   []string
	untracked []string
	triggered int
	state     RefreshState
	next      time.Time
}

func (f *fakeRefresher) Track(loc Location) { f.tracked = append(f.tracked, loc.Key()) }

func (f *fakeRefresher) Untrack(loc Location) { f.untracked = append(f.untracked, loc.Key()) }

func (f *fakeRefresher) TriggerRefresh(loc Location) RefreshStatus {
	f.triggered++
	return RefreshStatus{Location: loc, State: RefreshRefreshing, Accepted: true}
}

func (f *fakeRefresher) Status(loc Location) RefreshStatus {
	return RefreshStatus{Location: loc, State: f.state}
}

func (f *fakeRefresher) Expiration() time.Duration { return 15 * time.Minute }

func (f *fakeRefresher) NextUpdate(Location, time.Time) time.Time { return f.next }

var pomona = Location{Suburb: "Pomona", State: "QLD"}

func newTestService(c *fakeCache, r *fakeRefresher, now time.Time) *Service {
	s := NewService(c, r, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s
}

func TestLatestBuildsResponse(t *testing.T) {
	captured := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	now := captured.Add(10 * time.Minute)
	c := &fakeCache{
		folder: CacheFolder{
			FolderName:      "pomona_QLD_20251207_000000",
			CacheTimestamp:  captured,
			ObservationTime: captured.Add(-2 * time.Minute),
			WeatherStation:  "Gympie",
		},
		frames: []Frame{
			{DataType: DataTypeRadar, Index: 0, ObservationTime: captured.Add(-12 * time.Minute)},
			{DataType: DataTypeRadar, Index: 1, ObservationTime: captured.Add(-2 * time.Minute)},
		},
	}
	r := &fakeRefresher{state: RefreshIdle, next: now.Add(5 * time.Minute)}

	resp, err := newTestService(c, r, now).Latest(pomona)
	require.NoError(t, err)

	assert.True(t, resp.CacheIsValid)
	assert.False(t, resp.IsUpdating)
	assert.Equal(t, captured.Add(15*time.Minute), *resp.CacheExpiresAt)
	assert.Equal(t, now.Add(5*time.Minute), *resp.NextUpdateTime)
	assert.Equal(t, "Gympie", resp.WeatherStation)
	require.Len(t, resp.Frames, 2)
	assert.Equal(t, "/api/radar/Pomona/QLD/frame/1", resp.Frames[1].ImageURL)
	assert.Equal(t, 22, resp.Frames[0].Radar.MinutesAgo)
	assert.Equal(t, 12, resp.Frames[1].Radar.MinutesAgo)
	assert.Equal(t, []string{"pomona_QLD"}, r.tracked)
	assert.Zero(t, r.triggered)
}

func TestLatestExpiredWhileUpdating(t *testing.T) {
	captured := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	c := &fakeCache{folder: CacheFolder{CacheTimestamp: captured}}
	r := &fakeRefresher{state: RefreshRefreshing}

	resp, err := newTestService(c, r, captured.Add(15*time.Minute)).Latest(pomona)
	require.NoError(t, err)
	assert.False(t, resp.CacheIsValid)
	assert.True(t, resp.IsUpdating)
}

func TestLatestTriggersRefreshWhenEmpty(t *testing.T) {
	r := &fakeRefresher{}
	_, err := newTestService(&fakeCache{err: ErrNotFound}, r, time.Now()).Latest(pomona)

	var nc *NotCachedError
	require.True(t, errors.As(err, &nc))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, nc.Refresh.Accepted)
	assert.Equal(t, 1, r.triggered)
}

func TestTimeSeriesFillsFolderURLs(t *testing.T) {
	obs := time.Date(2025, 12, 7, 0, 0, 0, 0, time.UTC)
	c := &fakeCache{series: TimeSeries{
		CacheFolders: []FolderFrames{{
			CacheFolderName: "noosa-heads_QLD_20251207_000000",
			Frames:          []Frame{{DataType: DataTypeRadar, Index: 3, ObservationTime: obs.Add(time.Minute)}},
		}},
		TotalFrames: 1,
	}}
	loc := Location{Suburb: "Noosa Heads", State: "QLD"}

	series, err := newTestService(c, &fakeRefresher{}, obs).TimeSeries(loc, nil, nil)
	require.NoError(t, err)
	f := series.CacheFolders[0].Frames[0]
	assert.Equal(t, "/api/radar/Noosa%20Heads/QLD/timeseries/noosa-heads_QLD_20251207_000000/frame/3", f.ImageURL)
	// Frames observed after "now" are clamped.
	assert.Equal(t, 0, f.Radar.MinutesAgo)
}

func TestDeleteUntracksLocation(t *testing.T) {
	r := &fakeRefresher{}
	s := newTestService(&fakeCache{deleted: true}, r, time.Now())

	deleted, err := s.Delete(pomona)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{"pomona_QLD"}, r.untracked)

	// A failed delete leaves tracking alone.
	r = &fakeRefresher{}
	s = newTestService(&fakeCache{err: errors.New("disk full")}, r, time.Now())
	_, err = s.Delete(pomona)
	require.Error(t, err)
	assert.Empty(t, r.untracked)
}

func TestKeyFoldsSuburbSeparators(t *testing.T) {
	for _, suburb := range []string{"St Kilda", "st-kilda", "ST_KILDA", "  St   Kilda "} {
		assert.Equal(t, "st-kilda_VIC", Location{Suburb: suburb, State: "vic"}.Key(), suburb)
	}
}
