package source

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/i474232898/radar-cache/internal/common"
)

// ErrRadarUnavailable is returned when the page says the radar is offline.
var ErrRadarUnavailable = errors.New("radar imagery unavailable")

// FrameRef points at one frame image on the remote site.
type FrameRef struct {
	Index           int
	URL             string
	ObservationTime time.Time
}

// PageData is what a radar page tells us about the current loop.
type PageData struct {
	ObservationTime time.Time
	WeatherStation  string
	Frames          []FrameRef
}

// ParsePage extracts the radar loop from a page.
//
// The loop lives in a [data-radar] element carrying data-observation-time and
// data-station; each frame is an img[data-frame-index] with its own
// data-observation-time. Relative image URLs resolve against the page URL.
func ParsePage(p Page) (PageData, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.HTML))
	if err != nil {
		return PageData{}, fmt.Errorf("parse radar page: %w", err)
	}

	root := doc.Find("[data-radar]").First()
	if root.Length() == 0 {
		if common.HasAny(doc.Text(), "radar unavailable", "temporarily unavailable", "offline") {
			return PageData{}, ErrRadarUnavailable
		}
		return PageData{}, errors.New("radar loop not found on page")
	}

	var data PageData
	obs, ok := root.Attr("data-observation-time")
	if !ok {
		return PageData{}, errors.New("radar loop has no observation time")
	}
	data.ObservationTime, err = parseTimestamp(obs)
	if err != nil {
		return PageData{}, err
	}
	data.WeatherStation = strings.TrimSpace(root.AttrOr("data-station", ""))

	base, _ := url.Parse(p.URL)
	seen := make(map[int]bool)
	var parseErr error
	root.Find("img[data-frame-index]").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		ref, err := parseFrame(img, base)
		if err != nil {
			parseErr = err
			return false
		}
		if seen[ref.Index] {
			parseErr = fmt.Errorf("duplicate frame index %d", ref.Index)
			return false
		}
		seen[ref.Index] = true
		data.Frames = append(data.Frames, ref)
		return true
	})
	if parseErr != nil {
		return PageData{}, parseErr
	}

	sort.Slice(data.Frames, func(i, j int) bool { return data.Frames[i].Index < data.Frames[j].Index })
	return data, nil
}

func parseFrame(img *goquery.Selection, base *url.URL) (FrameRef, error) {
	idx, err := strconv.Atoi(strings.TrimSpace(img.AttrOr("data-frame-index", "")))
	if err != nil || idx < 0 {
		return FrameRef{}, fmt.Errorf("invalid frame index %q", img.AttrOr("data-frame-index", ""))
	}
	src, ok := img.Attr("src")
	if !ok || strings.TrimSpace(src) == "" {
		return FrameRef{}, fmt.Errorf("frame %d has no image source", idx)
	}
	ref, err := url.Parse(strings.TrimSpace(src))
	if err != nil {
		return FrameRef{}, fmt.Errorf("frame %d: invalid image source: %w", idx, err)
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	obs, err := parseTimestamp(img.AttrOr("data-observation-time", ""))
	if err != nil {
		return FrameRef{}, fmt.Errorf("frame %d: %w", idx, err)
	}
	return FrameRef{Index: idx, URL: ref.String(), ObservationTime: obs}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid observation time %q", s)
	}
	return ts.UTC(), nil
}
