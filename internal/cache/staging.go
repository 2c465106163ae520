package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/radar-cache/internal/radar"
)

// FramesMetadata is the content of a data type's frames.json.
type FramesMetadata struct {
	DataType        radar.DataType  `json:"dataType"`
	ObservationTime time.Time       `json:"observationTime"`
	CapturedAt      time.Time       `json:"capturedAt"`
	WeatherStation  string          `json:"weatherStation,omitempty"`
	Frames          []FrameMetadata `json:"frames"`
}

// FrameMetadata records one frame's absolute observation time.
type FrameMetadata struct {
	FrameIndex      int       `json:"frameIndex"`
	ObservationTime time.Time `json:"observationTime"`
	SourceURL       string    `json:"sourceUrl,omitempty"`
}

// Staging is a cache folder under construction. Nothing written here is
// visible to readers until Publish renames it into the cache root.
type Staging struct {
	store      *Store
	loc        radar.Location
	name       string
	dir        string
	capturedAt time.Time

	mu   sync.Mutex
	done bool
}

// Begin starts a new capture session for loc.
func (s *Store) Begin(loc radar.Location, capturedAt time.Time) (*Staging, error) {
	capturedAt = capturedAt.UTC().Truncate(time.Second)
	name := FolderName(loc, capturedAt)
	dir := filepath.Join(s.stagingRoot, name+"-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging folder: %w", err)
	}
	return &Staging{
		store:      s,
		loc:        loc,
		name:       name,
		dir:        dir,
		capturedAt: capturedAt,
	}, nil
}

// FolderName is the name the folder will be published under.
func (st *Staging) FolderName() string { return st.name }

// CapturedAt is the capture timestamp encoded in the folder name.
func (st *Staging) CapturedAt() time.Time { return st.capturedAt }

// Dir is the staging directory on disk.
func (st *Staging) Dir() string { return st.dir }

// WriteFrame stores the image of one frame.
func (st *Staging) WriteFrame(dt radar.DataType, index int, data []byte) error {
	if index < 0 {
		return fmt.Errorf("invalid frame index %d", index)
	}
	if err := os.MkdirAll(dataTypeDir(st.dir, dt), 0o755); err != nil {
		return fmt.Errorf("create %s folder: %w", dt, err)
	}
	if err := os.WriteFile(frameFilePath(st.dir, dt, index), data, 0o644); err != nil {
		return fmt.Errorf("write frame %d: %w", index, err)
	}
	return nil
}

// WriteMetadata stores frames.json for dt.
func (st *Staging) WriteMetadata(dt radar.DataType, meta FramesMetadata) error {
	meta.DataType = dt
	meta.ObservationTime = meta.ObservationTime.UTC()
	if meta.CapturedAt.IsZero() {
		meta.CapturedAt = st.capturedAt
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", metadataFileName, err)
	}
	if err := os.MkdirAll(dataTypeDir(st.dir, dt), 0o755); err != nil {
		return fmt.Errorf("create %s folder: %w", dt, err)
	}
	if err := os.WriteFile(metadataFilePath(st.dir, dt), data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", metadataFileName, err)
	}
	return nil
}

// IsComplete reports whether the staged data is complete for dt.
func (st *Staging) IsComplete(dt radar.DataType) bool {
	return st.store.IsComplete(st.dir, dt)
}

// Publish atomically moves the staged folder into the cache root and returns
// its description. It never overwrites an existing folder.
func (st *Staging) Publish() (radar.CacheFolder, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return radar.CacheFolder{}, errors.New("staging folder already published or discarded")
	}

	target := filepath.Join(st.store.root, st.name)
	if _, err := os.Stat(target); err == nil {
		return radar.CacheFolder{}, fmt.Errorf("%w: %s", ErrFolderExists, st.name)
	}
	if err := os.Rename(st.dir, target); err != nil {
		return radar.CacheFolder{}, fmt.Errorf("publish cache folder %s: %w", st.name, err)
	}
	st.done = true

	st.store.log.Info().
		Str("location", st.loc.Key()).
		Str("folder", st.name).
		Msg("published cache folder")
	return st.store.describe(st.name, st.capturedAt), nil
}

// Discard removes the staged folder. It is a no-op after Publish.
func (st *Staging) Discard() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.done {
		return nil
	}
	st.done = true
	if err := os.RemoveAll(st.dir); err != nil {
		return fmt.Errorf("discard staging folder %s: %w", st.name, err)
	}
	return nil
}
