package cache

import (
	"sort"
	"time"

	"github.com/i474232898/radar-cache/internal/radar"
)

// TimeSeries joins the radar frames of every complete folder of loc whose
// observation time lies in [start, end]. Nil bounds are open.
//
// Folders are ordered by cache timestamp and frames by index. When folders
// overlap in observation time, the frames of the most recently created folder
// win; folders left without frames are dropped.
func (s *Store) TimeSeries(loc radar.Location, start, end *time.Time) (radar.TimeSeries, error) {
	folders, err := s.CompleteFolders(loc, radar.DataTypeRadar)
	if err != nil {
		return radar.TimeSeries{}, err
	}

	var groups []radar.FolderFrames
	for _, f := range folders {
		if !inWindow(f.ObservationTime, start, end) {
			continue
		}
		frames, err := s.Frames(f, radar.DataTypeRadar)
		if err != nil {
			s.log.Warn().Err(err).Str("folder", f.FolderName).Msg("skipping unreadable cache folder")
			continue
		}
		groups = append(groups, radar.FolderFrames{
			CacheFolderName: f.FolderName,
			CacheTimestamp:  f.CacheTimestamp,
			ObservationTime: f.ObservationTime,
			Frames:          frames,
		})
	}

	series := joinFrames(groups)
	series.StartTime = utcPtr(start)
	series.EndTime = utcPtr(end)
	return series, nil
}

func joinFrames(groups []radar.FolderFrames) radar.TimeSeries {
	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].CacheTimestamp.Before(groups[j].CacheTimestamp)
	})
	for _, g := range groups {
		sort.SliceStable(g.Frames, func(i, j int) bool {
			return g.Frames[i].Index < g.Frames[j].Index
		})
	}

	// Walk newest folder first. An older folder keeps only frames observed
	// before everything kept from newer folders, so times never go backwards
	// and overlapping frames belong to the newest folder.
	var floor time.Time
	for gi := len(groups) - 1; gi >= 0; gi-- {
		kept := groups[gi].Frames[:0]
		for _, fr := range groups[gi].Frames {
			if !floor.IsZero() && !fr.ObservationTime.Before(floor) {
				continue
			}
			kept = append(kept, fr)
		}
		groups[gi].Frames = kept
		for _, fr := range kept {
			if floor.IsZero() || fr.ObservationTime.Before(floor) {
				floor = fr.ObservationTime
			}
		}
	}

	series := radar.TimeSeries{CacheFolders: make([]radar.FolderFrames, 0, len(groups))}
	for _, g := range groups {
		if len(g.Frames) == 0 {
			continue
		}
		series.CacheFolders = append(series.CacheFolders, g)
		series.TotalFrames += len(g.Frames)
	}
	return series
}

func inWindow(t time.Time, start, end *time.Time) bool {
	if start != nil && t.Before(*start) {
		return false
	}
	if end != nil && t.After(*end) {
		return false
	}
	return true
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
