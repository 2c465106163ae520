package radar

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Service answers radar queries from the cache and hands staleness over to the Refresher.
type Service struct {
	cache     CacheReader
	refresher Refresher
	log       zerolog.Logger
	now       func() time.Time
}

// NewService creates a new Service.
func NewService(cache CacheReader, refresher Refresher, logger zerolog.Logger) *Service {
	return &Service{
		cache:     cache,
		refresher: refresher,
		log:       logger.With().Str("component", "radar-service").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Latest returns the frames of the newest complete folder together with the
// cache status. When nothing is cached it starts a refresh and returns a
// *NotCachedError.
func (s *Service) Latest(loc Location) (Response, error) {
	s.refresher.Track(loc)

	folder, frames, err := s.cache.Latest(loc, DataTypeRadar)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			status := s.refresher.TriggerRefresh(loc)
			s.log.Info().Str("location", loc.Key()).Bool("accepted", status.Accepted).Msg("no cached radar data, refresh triggered")
			return Response{}, &NotCachedError{Location: loc, Refresh: status}
		}
		return Response{}, err
	}

	now := s.now()
	for i := range frames {
		frames[i].ImageURL = latestFrameURL(loc, frames[i].Index)
		fillMinutesAgo(&frames[i], now)
	}

	expiresAt := folder.CacheTimestamp.Add(s.refresher.Expiration())
	next := s.refresher.NextUpdate(loc, now)
	return Response{
		Location:        loc,
		CacheFolderName: folder.FolderName,
		Frames:          frames,
		LastUpdated:     folder.CacheTimestamp,
		ObservationTime: folder.ObservationTime,
		WeatherStation:  folder.WeatherStation,
		CacheIsValid:    now.Before(expiresAt),
		CacheExpiresAt:  &expiresAt,
		IsUpdating:      s.refresher.Status(loc).State == RefreshRefreshing,
		NextUpdateTime:  &next,
	}, nil
}

// TimeSeries returns the radar history of loc inside [start, end].
func (s *Service) TimeSeries(loc Location, start, end *time.Time) (TimeSeries, error) {
	s.refresher.Track(loc)

	series, err := s.cache.TimeSeries(loc, start, end)
	if err != nil {
		return TimeSeries{}, err
	}
	now := s.now()
	for gi := range series.CacheFolders {
		g := &series.CacheFolders[gi]
		for i := range g.Frames {
			g.Frames[i].ImageURL = folderFrameURL(loc, g.CacheFolderName, g.Frames[i].Index)
			fillMinutesAgo(&g.Frames[i], now)
		}
	}
	return series, nil
}

// Range delegates to the cache.
func (s *Service) Range(loc Location) (CacheRange, error) {
	return s.cache.Range(loc)
}

// Refresh starts an on-demand refresh of loc.
func (s *Service) Refresh(loc Location) RefreshStatus {
	s.refresher.Track(loc)
	return s.refresher.TriggerRefresh(loc)
}

// Delete removes every cached folder of loc and stops refreshing it unless
// it is a configured location.
func (s *Service) Delete(loc Location) (bool, error) {
	deleted, err := s.cache.Delete(loc)
	if err != nil {
		return deleted, err
	}
	s.refresher.Untrack(loc)
	return deleted, nil
}

// FramePath resolves a radar frame image. An empty folderName means the newest folder.
func (s *Service) FramePath(loc Location, folderName string, index int) (string, error) {
	return s.cache.FramePath(loc, folderName, DataTypeRadar, index)
}

func latestFrameURL(loc Location, index int) string {
	return fmt.Sprintf("/api/radar/%s/%s/frame/%d", url.PathEscape(loc.Suburb), url.PathEscape(loc.State), index)
}

func folderFrameURL(loc Location, folderName string, index int) string {
	return fmt.Sprintf("/api/radar/%s/%s/timeseries/%s/frame/%d",
		url.PathEscape(loc.Suburb), url.PathEscape(loc.State), url.PathEscape(folderName), index)
}

// fillMinutesAgo derives the display age of a radar frame from its absolute
// observation time. Frames from the future count as 0 minutes old.
func fillMinutesAgo(f *Frame, now time.Time) {
	if f.DataType != DataTypeRadar {
		return
	}
	mins := int(now.Sub(f.ObservationTime) / time.Minute)
	if mins < 0 {
		mins = 0
	}
	if f.Radar == nil {
		f.Radar = &RadarDetails{}
	}
	f.Radar.MinutesAgo = mins
}
