package workflows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/radar-cache/internal/cache"
	"github.com/i474232898/radar-cache/internal/radar"
	"github.com/i474232898/radar-cache/internal/scraping"
)

// ErrIncompleteCapture is returned when a run ends without a complete folder.
var ErrIncompleteCapture = errors.New("capture did not produce a complete cache folder")

// Store is the part of the cache the radar workflow writes to.
type Store interface {
	Begin(loc radar.Location, capturedAt time.Time) (*cache.Staging, error)
	Evict(loc radar.Location) (int, error)
}

// RadarWorkflow runs the radar steps into a staging folder and publishes it
// once it is complete.
type RadarWorkflow struct {
	engine *scraping.Engine
	store  Store
	log    zerolog.Logger
	now    func() time.Time
}

// NewRadarWorkflow creates the radar workflow. The engine's registry must hold
// the steps added by RegisterRadarSteps.
func NewRadarWorkflow(engine *scraping.Engine, store Store, logger zerolog.Logger) *RadarWorkflow {
	return &RadarWorkflow{
		engine: engine,
		store:  store,
		log:    logger.With().Str("component", "radar-workflow").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (w *RadarWorkflow) Name() Name { return RadarScraping }

func (w *RadarWorkflow) Plan() []string {
	return []string{StepLoadPage, StepParseFrames, StepCaptureFrames, StepWriteMetadata}
}

// Run captures one radar loop for loc.
func (w *RadarWorkflow) Run(ctx context.Context, loc radar.Location) (Report, error) {
	report := Report{Workflow: w.Name(), Location: loc}

	capturedAt := w.now()
	staging, err := w.store.Begin(loc, capturedAt)
	if err != nil {
		return report, err
	}
	// Discard is a no-op once the folder has been published.
	defer func() {
		if err := staging.Discard(); err != nil {
			w.log.Warn().Err(err).Str("location", loc.Key()).Msg("failed to discard staging folder")
		}
	}()

	sc := scraping.NewContext(loc, staging.CapturedAt())
	sc.Set(KeyStaging, staging)

	res, err := w.engine.Run(ctx, w.Plan(), sc)
	report.Run = res
	if err != nil {
		return report, err
	}
	if !staging.IsComplete(radar.DataTypeRadar) {
		if stepErr := res.Err(); stepErr != nil {
			return report, fmt.Errorf("%w: %v", ErrIncompleteCapture, stepErr)
		}
		return report, ErrIncompleteCapture
	}

	folder, err := staging.Publish()
	if err != nil {
		return report, err
	}
	report.Folder = &folder

	evicted, err := w.store.Evict(loc)
	if err != nil {
		w.log.Warn().Err(err).Str("location", loc.Key()).Msg("cache eviction failed")
	}
	report.Evicted = evicted

	w.log.Info().
		Str("location", loc.Key()).
		Str("folder", folder.FolderName).
		Str("run_id", res.RunID).
		Int("evicted", evicted).
		Msg("radar capture complete")
	return report, nil
}
