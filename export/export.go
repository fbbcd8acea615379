// Package export downloads the CSV reports the API produces for a date range
// and renders them as tables or PDF documents.
package export

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/transport"
)

// DateLayout is the date format of export query parameters and file names.
const DateLayout = "2006-01-02"

var ErrInvalidRange = errors.New("export: invalid date range")

// Range is an inclusive range of days.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange parses two YYYY-MM-DD dates.
func ParseRange(start, end string) (Range, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return Range{}, fmt.Errorf("%w: start date %q: %w", ErrInvalidRange, start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return Range{}, fmt.Errorf("%w: end date %q: %w", ErrInvalidRange, end, err)
	}
	r := Range{Start: s, End: e}
	return r, r.Validate()
}

// LastDays is the range of the n days ending on the calendar day of now, in
// now's location.
func LastDays(now time.Time, n int) Range {
	y, m, d := now.Date()
	end := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return Range{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

func (r Range) Validate() error {
	switch {
	case r.Start.IsZero() || r.End.IsZero():
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidRange)
	case r.End.Before(r.Start):
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}
	return nil
}

func (r Range) query() url.Values {
	return url.Values{
		"startDate": {r.Start.Format(DateLayout)},
		"endDate":   {r.End.Format(DateLayout)},
	}
}

type Option func(*Exporter)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Exporter) { e.logger = logger }
}

// Exporter fetches CSV exports. Exports bypass the query cache.
type Exporter struct {
	client *transport.Client
	logger zerolog.Logger
}

func New(client *transport.Client, opts ...Option) *Exporter {
	e := &Exporter{client: client, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Export returns the CSV export of resource for r.
func (e *Exporter) Export(ctx context.Context, resource string, r Range) ([]byte, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	res := transport.Send[[]byte](ctx, e.client, transport.Request{
		Path:   "/api/" + url.PathEscape(resource) + "/export",
		Query:  r.query(),
		Accept: "text/csv",
	})
	data, err := res.Unwrap()
	if err != nil {
		e.logger.Warn().Err(err).Str("resource", resource).Msg("export failed")
		return nil, err
	}
	e.logger.Debug().Str("resource", resource).Int("bytes", len(data)).Msg("export downloaded")
	return data, nil
}

// Download saves the CSV export of resource for r into dir and returns the
// file path.
func (e *Exporter) Download(ctx context.Context, resource string, r Range, dir string) (string, error) {
	data, err := e.Export(ctx, resource, r)
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("export: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, FileName(resource, r, ".csv"))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("export: write %s: %w", path, err)
	}
	e.logger.Info().Str("path", path).Msg("export saved")
	return path, nil
}

// FileName is the name an export of resource for r is saved under, e.g.
// "collections_2024-01-01_2024-01-31.csv".
func FileName(resource string, r Range, ext string) string {
	return fmt.Sprintf("%s_%s_%s%s", toSnake(resource), r.Start.Format(DateLayout), r.End.Format(DateLayout), ext)
}
