package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/i474232898/radar-cache/internal/radar"
)

var (
	// ErrNotFound is returned when no complete cache data is available.
	ErrNotFound = radar.ErrNotFound
	// ErrFolderExists is returned when publishing would overwrite an existing cache folder.
	ErrFolderExists = errors.New("cache folder already exists")
)

const (
	folderTimeLayout = "20060102_150405"
	stagingDirName   = ".staging"
)

// Config configures a Store.
type Config struct {
	// Root is the directory holding one sub-directory per cache folder.
	Root string
	// FrameCounts overrides the expected frame count per data type.
	FrameCounts map[radar.DataType]int

	// Retention. Zero means unlimited.
	MaxFolders int           // max number of folders per location
	MaxAge     time.Duration // max age of a folder, by cache timestamp
}

// Store is a filesystem-backed cache of capture sessions.
//
// Folders become visible to readers only through Staging.Publish, which renames
// a fully written staging directory into the root.
type Store struct {
	root        string
	stagingRoot string
	frameCounts map[radar.DataType]int
	maxFolders  int
	maxAge      time.Duration

	log zerolog.Logger
	now func() time.Time
}

// NewStore creates the root and staging directories if needed.
func NewStore(cfg Config, logger zerolog.Logger) (*Store, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("cache root directory is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}
	s := &Store{
		root:        root,
		stagingRoot: filepath.Join(root, stagingDirName),
		frameCounts: make(map[radar.DataType]int),
		maxFolders:  cfg.MaxFolders,
		maxAge:      cfg.MaxAge,
		log:         logger.With().Str("component", "cache").Logger(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for dt, n := range cfg.FrameCounts {
		s.frameCounts[dt] = n
	}
	if err := os.MkdirAll(s.stagingRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directories: %w", err)
	}
	return s, nil
}

// Root returns the absolute cache root.
func (s *Store) Root() string {
	return s.root
}

// FolderName returns the deterministic folder name for a capture session.
func FolderName(loc radar.Location, capturedAt time.Time) string {
	return loc.Key() + "_" + capturedAt.UTC().Format(folderTimeLayout)
}

// parseFolderName returns the cache timestamp encoded in name if name belongs to loc.
func parseFolderName(loc radar.Location, name string) (time.Time, bool) {
	prefix := loc.Key() + "_"
	if !strings.HasPrefix(name, prefix) {
		return time.Time{}, false
	}
	rest := strings.TrimPrefix(name, prefix)
	if len(rest) != len(folderTimeLayout) {
		return time.Time{}, false
	}
	ts, err := time.ParseInLocation(folderTimeLayout, rest, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Folders returns every published folder for loc, complete or not, ordered by
// cache timestamp ascending.
func (s *Store) Folders(loc radar.Location) ([]radar.CacheFolder, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list cache root: %w", err)
	}

	var folders []radar.CacheFolder
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		ts, ok := parseFolderName(loc, e.Name())
		if !ok {
			continue
		}
		folders = append(folders, s.describe(e.Name(), ts))
	}

	sort.SliceStable(folders, func(i, j int) bool {
		return folders[i].CacheTimestamp.Before(folders[j].CacheTimestamp)
	})
	return folders, nil
}

// CompleteFolders returns the folders of loc that are complete for dt, oldest first.
func (s *Store) CompleteFolders(loc radar.Location, dt radar.DataType) ([]radar.CacheFolder, error) {
	all, err := s.Folders(loc)
	if err != nil {
		return nil, err
	}
	complete := all[:0]
	for _, f := range all {
		if f.CompleteFor(dt) {
			complete = append(complete, f)
		}
	}
	return complete, nil
}

// describe derives folder metadata from the name and what is on disk.
func (s *Store) describe(name string, cacheTS time.Time) radar.CacheFolder {
	path := filepath.Join(s.root, name)
	folder := radar.CacheFolder{
		FolderName:     name,
		CacheTimestamp: cacheTS,
		Completeness:   make(map[radar.DataType]bool, len(radar.DataTypes)),
		Path:           path,
	}
	for _, dt := range radar.DataTypes {
		if isDir(dataTypeDir(path, dt)) {
			folder.AvailableDataTypes = append(folder.AvailableDataTypes, dt)
		}
		folder.Completeness[dt] = s.IsComplete(path, dt)
	}
	folder.IsComplete = folder.Completeness[radar.DataTypeRadar]

	// Observation time falls back to the cache timestamp when metadata is unreadable.
	folder.ObservationTime = cacheTS
	if meta, err := readMetadata(path, radar.DataTypeRadar); err == nil {
		if !meta.ObservationTime.IsZero() {
			folder.ObservationTime = meta.ObservationTime.UTC()
		}
		folder.WeatherStation = meta.WeatherStation
	}
	return folder
}

// Latest returns the newest complete folder for dt together with its frames.
func (s *Store) Latest(loc radar.Location, dt radar.DataType) (radar.CacheFolder, []radar.Frame, error) {
	folders, err := s.CompleteFolders(loc, dt)
	if err != nil {
		return radar.CacheFolder{}, nil, err
	}
	// A folder can disappear between listing and reading; fall back to older ones.
	for i := len(folders) - 1; i >= 0; i-- {
		frames, err := s.Frames(folders[i], dt)
		if err != nil {
			s.log.Warn().Err(err).Str("folder", folders[i].FolderName).Msg("skipping unreadable cache folder")
			continue
		}
		return folders[i], frames, nil
	}
	return radar.CacheFolder{}, nil, ErrNotFound
}

// Frames loads the frames of dt stored in folder, ordered by index.
func (s *Store) Frames(folder radar.CacheFolder, dt radar.DataType) ([]radar.Frame, error) {
	meta, err := readMetadata(folder.Path, dt)
	if err != nil {
		return nil, err
	}
	times := make(map[int]time.Time, len(meta.Frames))
	for _, fm := range meta.Frames {
		times[fm.FrameIndex] = fm.ObservationTime.UTC()
	}

	count := s.FrameCount(dt)
	frames := make([]radar.Frame, 0, count)
	for i := 0; i < count; i++ {
		obs, ok := times[i]
		if !ok {
			obs = folder.ObservationTime
		}
		frame := radar.Frame{
			DataType:        dt,
			Index:           i,
			ObservationTime: obs,
			ImagePath:       frameFilePath(folder.Path, dt, i),
		}
		if dt == radar.DataTypeRadar {
			frame.Radar = &radar.RadarDetails{}
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// FramePath resolves the image file of one frame in a named folder of loc.
// An empty folderName selects the newest complete folder.
func (s *Store) FramePath(loc radar.Location, folderName string, dt radar.DataType, index int) (string, error) {
	if index < 0 || index >= s.FrameCount(dt) {
		return "", fmt.Errorf("%w: frame index %d out of range", ErrNotFound, index)
	}

	var folderPath string
	if folderName == "" {
		folder, _, err := s.Latest(loc, dt)
		if err != nil {
			return "", err
		}
		folderPath = folder.Path
	} else {
		if filepath.Base(folderName) != folderName {
			return "", fmt.Errorf("%w: invalid folder name", ErrNotFound)
		}
		if _, ok := parseFolderName(loc, folderName); !ok {
			return "", fmt.Errorf("%w: folder %s does not belong to %s", ErrNotFound, folderName, loc.Key())
		}
		folderPath = filepath.Join(s.root, folderName)
		if !s.IsComplete(folderPath, dt) {
			return "", fmt.Errorf("%w: folder %s is not complete", ErrNotFound, folderName)
		}
	}

	path := frameFilePath(folderPath, dt, index)
	if !isFile(path) {
		return "", ErrNotFound
	}
	return path, nil
}

// Delete removes every cache folder of loc, including abandoned staging
// folders. It reports whether anything was removed.
func (s *Store) Delete(loc radar.Location) (bool, error) {
	folders, err := s.Folders(loc)
	if err != nil {
		return false, err
	}

	deleted := false
	for _, f := range folders {
		if err := os.RemoveAll(f.Path); err != nil {
			return deleted, fmt.Errorf("delete cache folder %s: %w", f.FolderName, err)
		}
		deleted = true
	}

	staged, err := os.ReadDir(s.stagingRoot)
	if err == nil {
		prefix := loc.Key() + "_"
		for _, e := range staged {
			if strings.HasPrefix(e.Name(), prefix) {
				if err := os.RemoveAll(filepath.Join(s.stagingRoot, e.Name())); err != nil {
					return deleted, fmt.Errorf("delete staging folder %s: %w", e.Name(), err)
				}
			}
		}
	}

	if deleted {
		s.log.Info().Str("location", loc.Key()).Int("folders", len(folders)).Msg("deleted cached location")
	}
	return deleted, nil
}

// Evict enforces retention for loc: folders older than MaxAge and folders
// beyond MaxFolders are removed oldest first. The newest complete radar folder
// is always kept. It returns how many folders were removed.
func (s *Store) Evict(loc radar.Location) (int, error) {
	if s.maxFolders <= 0 && s.maxAge <= 0 {
		return 0, nil
	}

	folders, err := s.Folders(loc)
	if err != nil {
		return 0, err
	}

	keep := -1
	for i := len(folders) - 1; i >= 0; i-- {
		if folders[i].IsComplete {
			keep = i
			break
		}
	}

	over := 0
	if s.maxFolders > 0 && len(folders) > s.maxFolders {
		over = len(folders) - s.maxFolders
	}
	cutoff := s.now().Add(-s.maxAge)

	removed := 0
	for i, f := range folders {
		if i == keep {
			continue
		}
		expired := s.maxAge > 0 && f.CacheTimestamp.Before(cutoff)
		if removed >= over && !expired {
			continue
		}
		if err := os.RemoveAll(f.Path); err != nil {
			return removed, fmt.Errorf("evict cache folder %s: %w", f.FolderName, err)
		}
		removed++
	}

	if removed > 0 {
		s.log.Debug().Str("location", loc.Key()).Int("removed", removed).Msg("evicted cache folders")
	}
	return removed, nil
}

// CleanStaging removes staging folders left behind by an interrupted process.
func (s *Store) CleanStaging() error {
	entries, err := os.ReadDir(s.stagingRoot)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("list staging directory: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.stagingRoot, e.Name())); err != nil {
			return fmt.Errorf("remove staging folder %s: %w", e.Name(), err)
		}
	}
	return nil
}

func readMetadata(folderPath string, dt radar.DataType) (FramesMetadata, error) {
	var meta FramesMetadata
	data, err := os.ReadFile(metadataFilePath(folderPath, dt))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return meta, fmt.Errorf("decode %s: %w", metadataFileName, err)
	}
	return meta, nil
}
