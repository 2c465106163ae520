package workflows

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/radar-cache/internal/cache"
	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/radar/source"
	"github.com/i474232898/radar-cache/internal/scraping"
)

var pomona = radar.Location{Suburb: "Pomona", State: "QLD"}

type fakeSource struct {
	frames  int
	pageErr error
	imgErr  error
	images  []string
}

func (f *fakeSource) FetchPage(_ context.Context, loc radar.Location) (source.Page, error) {
	if f.pageErr != nil {
		return source.Page{}, f.pageErr
	}
	obs := time.Date(2025, 12, 7, 0, 5, 0, 0, time.UTC)
	html := fmt.Sprintf(`<div data-radar data-observation-time="%s" data-station="Gympie">`, obs.Format(time.RFC3339))
	for i := 0; i < f.frames; i++ {
		ft := obs.Add(-time.Duration(f.frames-1-i) * 5 * time.Minute)
		html += fmt.Sprintf(`<img data-frame-index="%d" src="/f%d.png" data-observation-time="%s">`, i, i, ft.Format(time.RFC3339))
	}
	html += `</div>`
	return source.Page{URL: "https://weather.example.com/location/qld/pomona/radar", HTML: []byte(html)}, nil
}

func (f *fakeSource) FetchImage(_ context.Context, imageURL string) ([]byte, error) {
	if f.imgErr != nil {
		return nil, f.imgErr
	}
	f.images = append(f.images, imageURL)
	return []byte("png:" + imageURL), nil
}

func newTestWorkflow(t *testing.T, src RadarSource) (*RadarWorkflow, *cache.Store) {
	t.Helper()
	store, err := cache.NewStore(cache.Config{
		Root:        t.TempDir(),
		FrameCounts: map[radar.DataType]int{radar.DataTypeRadar: 3},
	}, zerolog.Nop())
	require.NoError(t, err)

	reg := scraping.NewRegistry(zerolog.Nop())
	RegisterRadarSteps(reg, src, 3)
	wf := NewRadarWorkflow(scraping.NewEngine(reg, zerolog.Nop()), store, zerolog.Nop())
	wf.now = func() time.Time { return time.Date(2025, 12, 7, 0, 9, 6, 0, time.UTC) }
	return wf, store
}

func stagingEntries(t *testing.T, store *cache.Store) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(store.Root(), ".staging"))
	require.NoError(t, err)
	return entries
}

func TestRadarWorkflowPublishesCompleteFolder(t *testing.T) {
	src := &fakeSource{frames: 5}
	wf, store := newTestWorkflow(t, src)

	report, err := wf.Run(context.Background(), pomona)
	require.NoError(t, err)
	require.NotNil(t, report.Folder)
	assert.Equal(t, scraping.RunSucceeded, report.Run.Status)
	assert.Equal(t, "pomona_QLD_20251207_000906", report.Folder.FolderName)
	assert.True(t, report.Folder.IsComplete)
	assert.Equal(t, "Gympie", report.Folder.WeatherStation)

	// Only the newest three frames are kept, re-indexed from zero.
	assert.Equal(t, []string{
		"https://weather.example.com/f2.png",
		"https://weather.example.com/f3.png",
		"https://weather.example.com/f4.png",
	}, src.images)

	folder, frames, err := store.Latest(pomona, radar.DataTypeRadar)
	require.NoError(t, err)
	assert.Equal(t, report.Folder.FolderName, folder.FolderName)
	require.Len(t, frames, 3)
	assert.True(t, frames[2].ObservationTime.Equal(time.Date(2025, 12, 7, 0, 5, 0, 0, time.UTC)))
	assert.True(t, frames[0].ObservationTime.Equal(time.Date(2025, 12, 6, 23, 55, 0, 0, time.UTC)))
	assert.Empty(t, stagingEntries(t, store))
}

func TestRadarWorkflowTooFewFramesDiscardsStaging(t *testing.T) {
	wf, store := newTestWorkflow(t, &fakeSource{frames: 2})

	report, err := wf.Run(context.Background(), pomona)
	require.ErrorIs(t, err, ErrIncompleteCapture)
	assert.Nil(t, report.Folder)
	assert.Equal(t, scraping.RunPartialFailure, report.Run.Status)

	capture, _ := report.Run.Step(StepCaptureFrames)
	assert.Equal(t, scraping.StateFailed, capture.State)
	meta, _ := report.Run.Step(StepWriteMetadata)
	assert.Equal(t, scraping.StateSkipped, meta.State)

	folders, err := store.Folders(pomona)
	require.NoError(t, err)
	assert.Empty(t, folders)
	assert.Empty(t, stagingEntries(t, store))
}

func TestRadarWorkflowPageFailure(t *testing.T) {
	boom := errors.New("connection refused")
	wf, _ := newTestWorkflow(t, &fakeSource{pageErr: boom})

	report, err := wf.Run(context.Background(), pomona)
	require.ErrorIs(t, err, ErrIncompleteCapture)
	assert.Contains(t, err.Error(), "connection refused")

	for _, name := range []string{StepParseFrames, StepCaptureFrames, StepWriteMetadata} {
		r, ok := report.Run.Step(name)
		require.True(t, ok)
		assert.Equal(t, scraping.StateSkipped, r.State, name)
	}
}

func TestRadarWorkflowCancelled(t *testing.T) {
	wf, store := newTestWorkflow(t, &fakeSource{frames: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := wf.Run(ctx, pomona)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, report.Run.Cancelled)
	assert.Empty(t, stagingEntries(t, store))
}

func TestFactory(t *testing.T) {
	wf, _ := newTestWorkflow(t, &fakeSource{frames: 3})
	f := NewFactory(wf)

	got, err := f.Get(RadarScraping)
	require.NoError(t, err)
	assert.Same(t, wf, got)
	assert.Equal(t, []Name{RadarScraping}, f.Names())

	_, err = f.Get("TemperatureMap")
	assert.ErrorIs(t, err, ErrUnknownWorkflow)
}
