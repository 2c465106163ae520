package radar

import (
	"strings"
	"time"

	"github.com/i474232898/radar-cache/internal/common"
)

// DataType is a category of scraped imagery stored inside a cache folder.
type DataType string

const (
	// DataTypeRadar is rain radar imagery: a short historical series that can be
	// joined across cache folders.
	DataTypeRadar DataType = "radar"
)

// DataTypes lists every data type the cache knows how to validate.
var DataTypes = []DataType{DataTypeRadar}

// Location identifies a place we scrape radar imagery for.
// Suburb/State must be provided; the HTTP layer validates them.
type Location struct {
	Suburb string `json:"suburb"`
	State  string `json:"state"`
}

// Key returns the canonical key for this location. It is also the prefix of
// every cache folder name for the location. Suburbs differing only in case or
// in spaces, hyphens and underscores between words share a key, so
// "St Kilda" and "st-kilda" name the same location and the same cache.
func (l Location) Key() string {
	return common.Slug(l.Suburb) + "_" + strings.ToUpper(strings.TrimSpace(l.State))
}

func (l Location) String() string {
	return l.Suburb + ", " + strings.ToUpper(l.State)
}

// CacheFolder describes one persisted capture session for a location.
type CacheFolder struct {
	FolderName string `json:"folderName"`
	// CacheTimestamp is derived from the folder key, always UTC.
	CacheTimestamp time.Time `json:"cacheTimestamp"`
	// ObservationTime comes from the stored metadata, always UTC.
	ObservationTime    time.Time         `json:"observationTime"`
	WeatherStation     string            `json:"weatherStation,omitempty"`
	AvailableDataTypes []DataType        `json:"availableDataTypes"`
	Completeness       map[DataType]bool `json:"completeness"`
	IsComplete         bool              `json:"isComplete"`

	// Path is the folder location on disk (server-side only).
	Path string `json:"-"`
}

// CompleteFor reports whether the folder fully represents dt.
func (f CacheFolder) CompleteFor(dt DataType) bool {
	return f.Completeness[dt]
}

// Frame is a single cached image. DataType discriminates the variant and the
// matching payload pointer (Radar for DataTypeRadar) carries variant-only fields.
type Frame struct {
	DataType DataType `json:"dataType"`
	Index    int      `json:"frameIndex"`
	// ObservationTime is the absolute observation time of this frame (UTC).
	ObservationTime time.Time `json:"observationTime"`
	ImagePath       string    `json:"-"`
	ImageURL        string    `json:"imageUrl"`

	Radar *RadarDetails `json:"radar,omitempty"`
}

// RadarDetails holds fields that only make sense for radar frames.
type RadarDetails struct {
	// MinutesAgo is a display value filled in at response time; it is never stored.
	MinutesAgo int `json:"minutesAgo"`
}

// CacheRange summarises the complete cache folders available for a location.
type CacheRange struct {
	OldestCache       *CacheFolder `json:"oldestCache"`
	NewestCache       *CacheFolder `json:"newestCache"`
	TotalCacheFolders int          `json:"totalCacheFolders"`
	// TimeSpanMinutes is nil when fewer than two complete folders exist.
	TimeSpanMinutes *int `json:"timeSpanMinutes"`
}

// FolderFrames is one capture session's frames inside a time series.
type FolderFrames struct {
	CacheFolderName string    `json:"cacheFolderName"`
	CacheTimestamp  time.Time `json:"cacheTimestamp"`
	ObservationTime time.Time `json:"observationTime"`
	Frames          []Frame   `json:"frames"`
}

// TimeSeries is the radar history stitched from several cache folders.
// CacheFolders are ordered oldest first.
type TimeSeries struct {
	CacheFolders []FolderFrames `json:"cacheFolders"`
	StartTime    *time.Time     `json:"startTime,omitempty"`
	EndTime      *time.Time     `json:"endTime,omitempty"`
	TotalFrames  int            `json:"totalFrames"`
}

// RefreshState is the refresh state of a single location.
type RefreshState string

const (
	RefreshIdle       RefreshState = "idle"
	RefreshRefreshing RefreshState = "refreshing"
	RefreshFailed     RefreshState = "failed"
)

// RefreshStatus is reported by on-demand refresh and embedded in responses.
type RefreshStatus struct {
	Location  Location     `json:"location"`
	State     RefreshState `json:"state"`
	Reason    string       `json:"reason,omitempty"`
	StartedAt *time.Time   `json:"startedAt,omitempty"`
	// Accepted is false when the request joined a refresh that was already running.
	Accepted bool `json:"accepted"`
}

// Response is the latest-frames view of a location's cache.
type Response struct {
	Location        Location   `json:"location"`
	CacheFolderName string     `json:"cacheFolderName"`
	Frames          []Frame    `json:"frames"`
	LastUpdated     time.Time  `json:"lastUpdated"`
	ObservationTime time.Time  `json:"observationTime"`
	WeatherStation  string     `json:"weatherStation,omitempty"`
	CacheIsValid    bool       `json:"cacheIsValid"`
	CacheExpiresAt  *time.Time `json:"cacheExpiresAt,omitempty"`
	IsUpdating      bool       `json:"isUpdating"`
	NextUpdateTime  *time.Time `json:"nextUpdateTime,omitempty"`
}
