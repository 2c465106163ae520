package httpapi

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/radar-cache/internal/radar"
)

var (
	validate       = newValidator()
	suburbPattern  = regexp.MustCompile(`^[\p{L}][\p{L} '\-.]*$`)
	errInvalidTime = errors.New("invalid time format; use RFC3339 or unix seconds")
)

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("suburb", func(fl validator.FieldLevel) bool {
		return suburbPattern.MatchString(fl.Field().String())
	})
	return v
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *radar.Service) {
	api := app.Group("/api")

	cacheGroup := api.Group("/cache/:suburb/:state")

	cacheGroup.Get("/range", func(c *fiber.Ctx) error {
		loc, err := parseLocation(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		r, err := service.Range(loc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read cache range")
		}
		if r.TotalCacheFolders == 0 {
			return fiber.NewError(fiber.StatusNotFound, "no cached data for requested location")
		}
		return c.JSON(r)
	})

	cacheGroup.Post("/refresh", func(c *fiber.Ctx) error {
		loc, err := parseLocation(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(service.Refresh(loc))
	})

	cacheGroup.Delete("", func(c *fiber.Ctx) error {
		loc, err := parseLocation(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		deleted, err := service.Delete(loc)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to delete cached data")
		}
		if !deleted {
			return fiber.NewError(fiber.StatusNotFound, "no cached data for requested location")
		}
		return c.JSON(fiber.Map{"location": loc, "deleted": true})
	})

	radarGroup := api.Group("/radar/:suburb/:state")

	radarGroup.Get("", func(c *fiber.Ctx) error {
		loc, err := parseLocation(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		resp, err := service.Latest(loc)
		if err != nil {
			var notCached *radar.NotCachedError
			if errors.As(err, &notCached) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
					"error":   true,
					"message": "no cached radar data yet, refresh started",
					"refresh": notCached.Refresh,
				})
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read radar data")
		}
		return c.JSON(resp)
	})

	radarGroup.Get("/frame/:index", func(c *fiber.Ctx) error {
		return sendFrame(c, service, "")
	})

	radarGroup.Get("/timeseries", func(c *fiber.Ctx) error {
		var req timeSeriesQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		series, err := service.TimeSeries(req.Location, req.Start, req.End)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read radar history")
		}
		return c.JSON(series)
	})

	radarGroup.Get("/timeseries/:folder/frame/:index", func(c *fiber.Ctx) error {
		folder, err := url.PathUnescape(c.Params("folder"))
		if err != nil || folder == "" {
			return fiber.NewError(fiber.StatusBadRequest, "invalid cache folder")
		}
		return sendFrame(c, service, folder)
	})
}

func sendFrame(c *fiber.Ctx, service *radar.Service, folder string) error {
	loc, err := parseLocation(c)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	index, err := strconv.Atoi(c.Params("index"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "frame index must be an integer")
	}
	path, err := service.FramePath(loc, folder, index)
	if err != nil {
		if errors.Is(err, radar.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "frame not found")
		}
		return fiber.NewError(fiber.StatusInternalServerError, "failed to read frame")
	}
	c.Set(fiber.HeaderCacheControl, "public, max-age=300")
	return c.SendFile(path)
}

// locationParams holds the path parameters identifying a location.
type locationParams struct {
	Suburb string `validate:"required,max=64,suburb"`
	State  string `validate:"required,oneof=NSW VIC QLD SA WA TAS NT ACT"`
}

func parseLocation(c *fiber.Ctx) (radar.Location, error) {
	suburb, err := url.PathUnescape(c.Params("suburb"))
	if err != nil {
		return radar.Location{}, err
	}
	p := locationParams{
		Suburb: strings.TrimSpace(suburb),
		State:  strings.ToUpper(strings.TrimSpace(c.Params("state"))),
	}
	if err := validate.Struct(p); err != nil {
		return radar.Location{}, err
	}
	return radar.Location{Suburb: p.Suburb, State: p.State}, nil
}

// timeSeriesQuery holds the parameters of the time series endpoint. Both
// bounds are optional.
type timeSeriesQuery struct {
	Location radar.Location
	Start    *time.Time
	End      *time.Time
}

func (q *timeSeriesQuery) bind(c *fiber.Ctx) error {
	loc, err := parseLocation(c)
	if err != nil {
		return err
	}
	q.Location = loc

	if s := c.Query("startTime"); s != "" {
		ts, err := parseTime(s)
		if err != nil {
			return err
		}
		q.Start = &ts
	}
	if s := c.Query("endTime"); s != "" {
		ts, err := parseTime(s)
		if err != nil {
			return err
		}
		q.End = &ts
	}
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return errors.New("endTime must not be before startTime")
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errInvalidTime
}
