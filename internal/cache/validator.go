package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/i474232898/radar-cache/internal/radar"
)

const (
	// DefaultFrameCount is the number of frames expected per data type when
	// nothing else is configured.
	DefaultFrameCount = 7

	metadataFileName = "frames.json"
	frameExtension   = ".png"
)

// FrameCount returns the configured number of frames for dt.
func (s *Store) FrameCount(dt radar.DataType) int {
	if n, ok := s.frameCounts[dt]; ok && n > 0 {
		return n
	}
	return DefaultFrameCount
}

// IsComplete reports whether the folder at folderPath fully represents dt:
// the data type directory exists, every frame in [0, FrameCount(dt)) has a
// backing file and the metadata file is present. Any filesystem error counts
// as "not complete".
func (s *Store) IsComplete(folderPath string, dt radar.DataType) bool {
	if folderPath == "" {
		return false
	}
	if !isDir(folderPath) {
		return false
	}
	dir := dataTypeDir(folderPath, dt)
	if !isDir(dir) {
		return false
	}
	for i := 0; i < s.FrameCount(dt); i++ {
		if !isFile(frameFilePath(folderPath, dt, i)) {
			return false
		}
	}
	return isFile(metadataFilePath(folderPath, dt))
}

func dataTypeDir(folderPath string, dt radar.DataType) string {
	return filepath.Join(folderPath, string(dt))
}

func frameFilePath(folderPath string, dt radar.DataType, index int) string {
	return filepath.Join(dataTypeDir(folderPath, dt), fmt.Sprintf("frame_%d%s", index, frameExtension))
}

func metadataFilePath(folderPath string, dt radar.DataType) string {
	return filepath.Join(dataTypeDir(folderPath, dt), metadataFileName)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
