package workflows

import (
	"context"
	"fmt"

	"github.com/i474232898/radar-cache/internal/cache"
	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/radar/source"
	"github.com/i474232898/radar-cache/internal/scraping"
)

// Step names of the radar workflow.
const (
	StepLoadPage      = "load_page"
	StepParseFrames   = "parse_frames"
	StepCaptureFrames = "capture_frames"
	StepWriteMetadata = "write_metadata"
)

// Context keys shared by the radar steps.
const (
	KeyStaging        = "staging"
	KeyPage           = "page"
	KeyPageData       = "page_data"
	KeyCapturedFrames = "captured_frames"
)

// RadarSource is the remote side of the radar steps.
type RadarSource interface {
	FetchPage(ctx context.Context, loc radar.Location) (source.Page, error)
	FetchImage(ctx context.Context, imageURL string) ([]byte, error)
}

// RegisterRadarSteps registers every step of the radar workflow.
func RegisterRadarSteps(reg *scraping.Registry, src RadarSource, frameCount int) {
	reg.Register(&loadPageStep{src: src})
	reg.Register(&parseFramesStep{})
	reg.Register(&captureFramesStep{src: src, frameCount: frameCount})
	reg.Register(&writeMetadataStep{})
}

type loadPageStep struct {
	src RadarSource
}

func (s *loadPageStep) Name() string            { return StepLoadPage }
func (s *loadPageStep) Prerequisites() []string { return nil }

func (s *loadPageStep) CanExecute(sc *scraping.Context) bool {
	return sc.Location.Suburb != "" && sc.Location.State != ""
}

func (s *loadPageStep) Execute(ctx context.Context, sc *scraping.Context) scraping.StepResult {
	page, err := s.src.FetchPage(ctx, sc.Location)
	if err != nil {
		return scraping.Fail(err)
	}
	return scraping.Succeed(map[string]any{KeyPage: page})
}

type parseFramesStep struct{}

func (s *parseFramesStep) Name() string            { return StepParseFrames }
func (s *parseFramesStep) Prerequisites() []string { return []string{StepLoadPage} }

func (s *parseFramesStep) CanExecute(sc *scraping.Context) bool {
	_, ok := scraping.Value[source.Page](sc, KeyPage)
	return ok
}

func (s *parseFramesStep) Execute(_ context.Context, sc *scraping.Context) scraping.StepResult {
	page, _ := scraping.Value[source.Page](sc, KeyPage)
	data, err := source.ParsePage(page)
	if err != nil {
		return scraping.Fail(err)
	}
	if len(data.Frames) == 0 {
		return scraping.Fail(fmt.Errorf("radar page for %s lists no frames", sc.Location.Key()))
	}
	return scraping.Succeed(map[string]any{KeyPageData: data})
}

// captureFramesStep downloads the newest frameCount frames and stores them
// re-indexed from 0 (oldest) in the staging folder.
type captureFramesStep struct {
	src        RadarSource
	frameCount int
}

func (s *captureFramesStep) Name() string            { return StepCaptureFrames }
func (s *captureFramesStep) Prerequisites() []string { return []string{StepParseFrames} }

func (s *captureFramesStep) CanExecute(sc *scraping.Context) bool {
	_, hasStaging := scraping.Value[*cache.Staging](sc, KeyStaging)
	data, hasData := scraping.Value[source.PageData](sc, KeyPageData)
	return hasStaging && hasData && len(data.Frames) > 0
}

func (s *captureFramesStep) Execute(ctx context.Context, sc *scraping.Context) scraping.StepResult {
	staging, _ := scraping.Value[*cache.Staging](sc, KeyStaging)
	data, _ := scraping.Value[source.PageData](sc, KeyPageData)

	want := s.frameCount
	if want <= 0 {
		want = cache.DefaultFrameCount
	}
	if len(data.Frames) < want {
		return scraping.Fail(fmt.Errorf("radar page lists %d frames, expected %d", len(data.Frames), want))
	}
	refs := data.Frames[len(data.Frames)-want:]
	for i := 1; i < len(refs); i++ {
		if !refs[i].ObservationTime.After(refs[i-1].ObservationTime) {
			return scraping.Fail(fmt.Errorf("frame observation times are not increasing at frame %d", refs[i].Index))
		}
	}

	captured := make([]cache.FrameMetadata, 0, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return scraping.Fail(err)
		}
		img, err := s.src.FetchImage(ctx, ref.URL)
		if err != nil {
			return scraping.Fail(err)
		}
		if err := staging.WriteFrame(radar.DataTypeRadar, i, img); err != nil {
			return scraping.Fail(err)
		}
		captured = append(captured, cache.FrameMetadata{
			FrameIndex:      i,
			ObservationTime: ref.ObservationTime,
			SourceURL:       ref.URL,
		})
	}
	return scraping.Succeed(map[string]any{KeyCapturedFrames: captured})
}

type writeMetadataStep struct{}

func (s *writeMetadataStep) Name() string            { return StepWriteMetadata }
func (s *writeMetadataStep) Prerequisites() []string { return []string{StepCaptureFrames} }

func (s *writeMetadataStep) CanExecute(sc *scraping.Context) bool {
	_, hasStaging := scraping.Value[*cache.Staging](sc, KeyStaging)
	frames, hasFrames := scraping.Value[[]cache.FrameMetadata](sc, KeyCapturedFrames)
	return hasStaging && hasFrames && len(frames) > 0
}

func (s *writeMetadataStep) Execute(_ context.Context, sc *scraping.Context) scraping.StepResult {
	staging, _ := scraping.Value[*cache.Staging](sc, KeyStaging)
	frames, _ := scraping.Value[[]cache.FrameMetadata](sc, KeyCapturedFrames)
	data, _ := scraping.Value[source.PageData](sc, KeyPageData)

	meta := cache.FramesMetadata{
		ObservationTime: data.ObservationTime,
		CapturedAt:      sc.CapturedAt,
		WeatherStation:  data.WeatherStation,
		Frames:          frames,
	}
	if err := staging.WriteMetadata(radar.DataTypeRadar, meta); err != nil {
		return scraping.Fail(err)
	}
	return scraping.Succeed(nil)
}
