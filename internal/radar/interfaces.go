package radar

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no complete cache data is available.
var ErrNotFound = errors.New("no cached data for location")

// NotCachedError is returned by Service.Latest when nothing is cached yet.
// Refresh is the status of the refresh that the lookup triggered.
type NotCachedError struct {
	Location Location
	Refresh  RefreshStatus
}

func (e *NotCachedError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNotFound, e.Location.Key())
}

func (e *NotCachedError) Unwrap() error { return ErrNotFound }

// CacheReader is the read side of the cache store plus deletion.
type CacheReader interface {
	Latest(loc Location, dt DataType) (CacheFolder, []Frame, error)
	TimeSeries(loc Location, start, end *time.Time) (TimeSeries, error)
	Range(loc Location) (CacheRange, error)
	FramePath(loc Location, folderName string, dt DataType, index int) (string, error)
	Delete(loc Location) (bool, error)
}

// Refresher owns refreshing cached locations and knows when they go stale.
type Refresher interface {
	// Track adds loc to the locations checked on every tick.
	Track(loc Location)
	// Untrack undoes Track for locations that were not configured at startup.
	Untrack(loc Location)
	TriggerRefresh(loc Location) RefreshStatus
	Status(loc Location) RefreshStatus
	// Expiration is how long a cache folder stays valid after its capture.
	Expiration() time.Duration
	NextUpdate(loc Location, now time.Time) time.Time
}
