// Package pagination drives a paginated, filterable list of one resource with
// two-phase row deletion.
package pagination

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/sahilm/fuzzy"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/query"
	"github.com/connor-davis/threereco-admin/resource"
)

var (
	ErrClosed          = errors.New("pagination: view closed")
	ErrPageSize        = errors.New("pagination: page size not allowed")
	ErrPageOutOfRange  = errors.New("pagination: page out of range")
	ErrNoPendingDelete = errors.New("pagination: no delete pending")
	ErrDeleteInFlight  = errors.New("pagination: delete already in progress")
)

// DefaultPageSizes are the page sizes a view accepts unless configured otherwise.
var DefaultPageSizes = []int{10, 20, 30}

// Row is a row of the current page, with the label positions that matched
// the filter.
type Row[T any] struct {
	Item    T
	Label   string
	Matched []int
}

// Snapshot is the state a list screen renders.
type Snapshot[T any] struct {
	Page          int
	PageSize      int
	TotalPages    int
	Rows          []Row[T]
	Filter        string
	Status        query.Status
	Err           error
	PendingDelete string
	Deleting      bool
	CanGoNext     bool
	CanGoPrevious bool
}

// Empty reports whether a successful load returned no rows. A failed or
// unfinished load is never empty.
func (s Snapshot[T]) Empty() bool {
	return s.Status == query.StatusSuccess && len(s.Rows) == 0
}

type Option func(*config)

type config struct {
	sizes    []int
	size     int
	filters  resource.Params
	notifier notify.Notifier
	logger   zerolog.Logger
	label    func(any) string
	title    string
}

// WithPageSizes replaces the allowed page sizes. The first one becomes the
// default unless WithPageSize is also given.
func WithPageSizes(sizes ...int) Option {
	return func(c *config) {
		if len(sizes) > 0 {
			c.sizes = slices.Clone(sizes)
		}
	}
}

// WithPageSize sets the initial page size. It must be one of the allowed sizes.
func WithPageSize(n int) Option {
	return func(c *config) { c.size = n }
}

// WithFilters adds static parameters sent with every list request, such as
// includeBusiness=true.
func WithFilters(params resource.Params) Option {
	return func(c *config) {
		for k, v := range params {
			c.filters[k] = v
		}
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *config) { c.notifier = n }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// WithLabel sets the text the filter matches rows against.
func WithLabel[T any](label func(T) string) Option {
	return func(c *config) {
		c.label = func(v any) string { return label(v.(T)) }
	}
}

// WithTitle sets the singular name used in notifications, "Collector" for example.
func WithTitle(title string) Option {
	return func(c *config) { c.title = title }
}

func defaultLabel(v any) string {
	if l, ok := v.(interface{ Label() string }); ok {
		return l.Label()
	}
	return fmt.Sprintf("%v", v)
}

// View is one mounted list screen. It holds UI state only and reads through
// the resource controller.
type View[T domain.Entity] struct {
	ctrl     *resource.Controller[T]
	sizes    []int
	filters  resource.Params
	notifier notify.Notifier
	logger   zerolog.Logger
	label    func(any) string
	title    string

	mu            sync.Mutex
	page          int
	pageSize      int
	totalPages    int
	rows          []T
	status        query.Status
	err           error
	filter        string
	pendingDelete string
	deleting      bool
	closed        bool
	seq           uint64
}

// New mounts a view over ctrl. Nothing is requested until Load.
func New[T domain.Entity](ctrl *resource.Controller[T], opts ...Option) (*View[T], error) {
	cfg := config{
		sizes:   DefaultPageSizes,
		filters: resource.Params{},
		logger:  zerolog.Nop(),
		label:   defaultLabel,
		title:   ctrl.Name(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.size == 0 {
		cfg.size = cfg.sizes[0]
	}
	if !slices.Contains(cfg.sizes, cfg.size) {
		return nil, fmt.Errorf("%w: %d not in %v", ErrPageSize, cfg.size, cfg.sizes)
	}

	return &View[T]{
		ctrl:     ctrl,
		sizes:    cfg.sizes,
		filters:  cfg.filters,
		notifier: cfg.notifier,
		logger:   cfg.logger.With().Str("view", ctrl.Name()).Logger(),
		label:    cfg.label,
		title:    cfg.title,
		page:     1,
		pageSize: cfg.size,
		status:   query.StatusIdle,
	}, nil
}

// PageSizes returns the allowed page sizes.
func (v *View[T]) PageSizes() []int {
	return slices.Clone(v.sizes)
}

// Load requests the current page and the page count. A result for a page that
// stopped being current while it loaded, or that arrives after Close, is
// dropped.
func (v *View[T]) Load(ctx context.Context) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	v.seq++
	seq, page, pageSize := v.seq, v.page, v.pageSize
	v.status = query.StatusLoading
	v.err = nil
	v.mu.Unlock()

	count := v.ctrl.PageCount(ctx, pageSize)
	list := v.ctrl.List(ctx, v.params(page, pageSize))

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed || seq != v.seq {
		v.logger.Debug().Int("page", page).Msg("dropping result for a page that is no longer shown")
		return nil
	}

	v.totalPages = max(count.Data, 0)
	switch {
	case list.Failed():
		v.status, v.err = query.StatusError, list.Err
		v.rows = nil
	case count.Failed():
		v.status, v.err = query.StatusError, count.Err
		v.rows = list.Data
	default:
		v.status = query.StatusSuccess
		v.rows = list.Data
	}
	return v.err
}

// Refresh marks the resource stale and loads the current page again.
func (v *View[T]) Refresh(ctx context.Context) error {
	v.ctrl.Invalidate(ctx)
	return v.Load(ctx)
}

func (v *View[T]) params(page, pageSize int) resource.Params {
	p := make(resource.Params, len(v.filters)+2)
	for k, val := range v.filters {
		p[k] = val
	}
	p["page"] = page
	p["pageSize"] = pageSize
	return p
}

// CanGoPrevious reports whether a previous page exists.
func (v *View[T]) CanGoPrevious() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page > 1
}

// CanGoNext reports whether a next page exists.
func (v *View[T]) CanGoNext() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.page < v.totalPages
}

// Next moves to the next page and loads it. On the last page it does nothing.
func (v *View[T]) Next(ctx context.Context) error {
	return v.step(ctx, 1)
}

// Previous moves to the previous page and loads it. On page 1 it does nothing.
func (v *View[T]) Previous(ctx context.Context) error {
	return v.step(ctx, -1)
}

func (v *View[T]) step(ctx context.Context, delta int) error {
	v.mu.Lock()
	target := v.page + delta
	if v.closed || target < 1 || (delta > 0 && target > v.totalPages) {
		v.mu.Unlock()
		return nil
	}
	v.page = target
	v.filter = ""
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetPage jumps to page and loads it.
func (v *View[T]) SetPage(ctx context.Context, page int) error {
	v.mu.Lock()
	if page < 1 || page > max(v.totalPages, 1) {
		total := v.totalPages
		v.mu.Unlock()
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, page, total)
	}
	v.page = page
	v.filter = ""
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetPageSize changes the page size, goes back to page 1 and loads it.
func (v *View[T]) SetPageSize(ctx context.Context, size int) error {
	if !slices.Contains(v.sizes, size) {
		return fmt.Errorf("%w: %d not in %v", ErrPageSize, size, v.sizes)
	}
	v.mu.Lock()
	v.pageSize = size
	v.page = 1
	v.filter = ""
	v.mu.Unlock()
	return v.Load(ctx)
}

// SetFilter sets the fuzzy filter applied to the rows of the current page.
// It never causes a request.
func (v *View[T]) SetFilter(q string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.filter = q
}

// Rows returns the current page's rows, ranked by the filter when one is set.
func (v *View[T]) Rows() []Row[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.filteredRows()
}

type labels []string

func (l labels) String(i int) string { return l[i] }
func (l labels) Len() int             { return len(l) }

func (v *View[T]) filteredRows() []Row[T] {
	text := make(labels, len(v.rows))
	for i, item := range v.rows {
		text[i] = v.label(item)
	}

	if v.filter == "" {
		rows := make([]Row[T], len(v.rows))
		for i, item := range v.rows {
			rows[i] = Row[T]{Item: item, Label: text[i]}
		}
		return rows
	}

	matches := fuzzy.FindFrom(v.filter, text)
	rows := make([]Row[T], len(matches))
	for i, m := range matches {
		rows[i] = Row[T]{Item: v.rows[m.Index], Label: m.Str, Matched: m.MatchedIndexes}
	}
	return rows
}

// Snapshot returns everything a screen needs to render the view.
func (v *View[T]) Snapshot() Snapshot[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return Snapshot[T]{
		Page:          v.page,
		PageSize:      v.pageSize,
		TotalPages:    v.totalPages,
		Rows:          v.filteredRows(),
		Filter:        v.filter,
		Status:        v.status,
		Err:           v.err,
		PendingDelete: v.pendingDelete,
		Deleting:      v.deleting,
		CanGoNext:     v.page < v.totalPages,
		CanGoPrevious: v.page > 1,
	}
}

// RequestDelete asks for confirmation before id is deleted. Nothing is sent.
func (v *View[T]) RequestDelete(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.deleting {
		return ErrDeleteInFlight
	}
	v.pendingDelete = id
	return nil
}

// CancelDelete drops the pending delete.
func (v *View[T]) CancelDelete() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.deleting {
		v.pendingDelete = ""
	}
}

// ConfirmDelete removes the pending record with a single request, notifies
// the outcome and reloads the list on success.
func (v *View[T]) ConfirmDelete(ctx context.Context) error {
	v.mu.Lock()
	switch {
	case v.closed:
		v.mu.Unlock()
		return ErrClosed
	case v.deleting:
		v.mu.Unlock()
		return ErrDeleteInFlight
	case v.pendingDelete == "":
		v.mu.Unlock()
		return ErrNoPendingDelete
	}
	id := v.pendingDelete
	v.deleting = true
	v.mu.Unlock()

	err := v.ctrl.Remove(ctx, id)

	v.mu.Lock()
	v.deleting = false
	v.pendingDelete = ""
	closed := v.closed
	v.mu.Unlock()

	if err != nil {
		notify.Error(v.notifier, "Could not delete "+v.title, err)
		return err
	}
	notify.Success(v.notifier, v.title+" deleted", "The record was removed.")
	if closed {
		return nil
	}

	// a failed reload shows up in the snapshot; the delete itself succeeded
	if v.Load(ctx) != nil {
		return nil
	}
	// the last row of the last page may have gone
	v.mu.Lock()
	shrunk := v.totalPages > 0 && v.page > v.totalPages
	if shrunk {
		v.page = v.totalPages
	}
	v.mu.Unlock()
	if shrunk {
		_ = v.Load(ctx)
	}
	return nil
}

// Close unmounts the view. Later results are ignored and later calls fail
// with ErrClosed.
func (v *View[T]) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
}
