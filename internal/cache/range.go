package cache

import (
	"github.com/i474232898/radar-cache/internal/radar"
)

// Range reports the oldest and newest complete radar folders of loc. An empty
// range (TotalCacheFolders == 0) means nothing usable is cached.
func (s *Store) Range(loc radar.Location) (radar.CacheRange, error) {
	folders, err := s.CompleteFolders(loc, radar.DataTypeRadar)
	if err != nil {
		return radar.CacheRange{}, err
	}
	return buildRange(folders), nil
}

// buildRange expects folders ordered by cache timestamp ascending.
func buildRange(folders []radar.CacheFolder) radar.CacheRange {
	var r radar.CacheRange
	r.TotalCacheFolders = len(folders)
	if len(folders) == 0 {
		return r
	}

	oldest := folders[0]
	newest := folders[len(folders)-1]
	r.OldestCache = &oldest
	r.NewestCache = &newest

	if len(folders) >= 2 {
		span := int(newest.CacheTimestamp.Sub(oldest.CacheTimestamp).Minutes())
		if span < 0 {
			span = -span
		}
		r.TimeSpanMinutes = &span
	}
	return r
}
