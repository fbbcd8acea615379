// Package form holds the values of a create or edit form for one entity,
// validates them and submits them through the resource controller.
package form

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/resource"
)

var (
	// ErrInvalid wraps the validation.Errors of a rejected submission.
	ErrInvalid    = errors.New("form: invalid values")
	ErrNotReady   = errors.New("form: record not loaded yet")
	ErrSubmitting = errors.New("form: submission in progress")
	ErrClosed     = errors.New("form: closed")
)

type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

func (m Mode) String() string {
	if m == ModeEdit {
		return "edit"
	}
	return "create"
}

// Navigator moves the user to another screen.
type Navigator interface {
	Navigate(route string)
}

// NavigatorFunc adapts a function to a Navigator.
type NavigatorFunc func(route string)

func (f NavigatorFunc) Navigate(route string) { f(route) }

type Option func(*config)

type config struct {
	notifier  notify.Notifier
	navigator Navigator
	listRoute string
	title     string
	logger    zerolog.Logger
}

func WithNotifier(n notify.Notifier) Option {
	return func(c *config) { c.notifier = n }
}

func WithNavigator(n Navigator) Option {
	return func(c *config) { c.navigator = n }
}

// WithListRoute sets where a successful submission navigates. It defaults to
// "/" followed by the resource name.
func WithListRoute(route string) Option {
	return func(c *config) { c.listRoute = route }
}

// WithTitle sets the singular name used in notifications, "Business" for example.
func WithTitle(title string) Option {
	return func(c *config) { c.title = title }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Controller is the state of one mounted form.
type Controller[T domain.Entity] struct {
	ctrl      *resource.Controller[T]
	mode      Mode
	id        string
	notifier  notify.Notifier
	navigator Navigator
	listRoute string
	title     string
	logger    zerolog.Logger

	mu          sync.Mutex
	values      T
	fieldErrs   validation.Errors
	ready       bool
	submitting  bool
	closed      bool
	unsubscribe func()
}

func newController[T domain.Entity](ctrl *resource.Controller[T], mode Mode, id string, opts []Option) *Controller[T] {
	cfg := config{
		listRoute: "/" + ctrl.Name(),
		title:     ctrl.Name(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Controller[T]{
		ctrl:      ctrl,
		mode:      mode,
		id:        id,
		notifier:  cfg.notifier,
		navigator: cfg.navigator,
		listRoute: cfg.listRoute,
		title:     cfg.title,
		logger:    cfg.logger.With().Str("form", ctrl.Name()).Str("mode", mode.String()).Logger(),
	}
}

// NewCreate mounts a create form starting from defaults.
func NewCreate[T domain.Entity](ctrl *resource.Controller[T], defaults T, opts ...Option) (*Controller[T], error) {
	values, err := Clone(defaults)
	if err != nil {
		return nil, err
	}
	c := newController(ctrl, ModeCreate, "", opts)
	c.values = values
	c.ready = true
	return c, nil
}

// NewEdit mounts an edit form for record id. The values are reset from the
// record once, the first time a fresh copy is available: right away when it is
// cached and not stale, otherwise when a fetch of it succeeds. Later fetches leave the values alone.
func NewEdit[T domain.Entity](ctrl *resource.Controller[T], id string, opts ...Option) *Controller[T] {
	c := newController(ctrl, ModeEdit, id, opts)
	c.unsubscribe = ctrl.SubscribeByID(id, func(s resource.State[T]) {
		if s.Ready() && !s.Stale {
			c.reset(s.Data)
		}
	})
	// a stale record predates a write; wait for the refetch
	if s := ctrl.PeekByID(id); s.Ready() && !s.Stale {
		c.reset(s.Data)
	}
	return c
}

func (c *Controller[T]) reset(record T) {
	values, err := Clone(record)
	if err != nil {
		c.logger.Error().Err(err).Msg("copy record into form")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready || c.closed {
		return
	}
	c.values = values
	c.ready = true
}

// Load fetches the record of an edit form. The values are reset through the
// subscription set up by NewEdit.
func (c *Controller[T]) Load(ctx context.Context) error {
	if c.mode != ModeEdit {
		return nil
	}
	return c.ctrl.GetByID(ctx, c.id).Err
}

func (c *Controller[T]) Mode() Mode { return c.mode }

// ID is the record being edited, empty in create mode.
func (c *Controller[T]) ID() string { return c.id }

// Ready reports whether the form holds values to edit.
func (c *Controller[T]) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Submitting reports whether a submission is in flight.
func (c *Controller[T]) Submitting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submitting
}

// Values returns a copy of the current values.
func (c *Controller[T]) Values() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, err := Clone(c.values)
	if err != nil {
		c.logger.Error().Err(err).Msg("copy form values")
		return c.values
	}
	return v
}

// Set applies edit to the values.
func (c *Controller[T]) Set(edit func(values *T)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.ready:
		return ErrNotReady
	}
	edit(&c.values)
	return nil
}

// Validate checks the values and records the per-field errors.
func (c *Controller[T]) Validate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateLocked()
}

func (c *Controller[T]) validateLocked() error {
	c.fieldErrs = nil
	err := c.values.Validate()
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		c.fieldErrs = fieldErrs
	}
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

// FieldErrors returns the message of each invalid field from the last
// validation, keyed by JSON field name.
func (c *Controller[T]) FieldErrors() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.fieldErrs))
	flatten("", c.fieldErrs, out)
	return out
}

// FieldNames returns the invalid field names in order.
func (c *Controller[T]) FieldNames() []string {
	errs := c.FieldErrors()
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func flatten(prefix string, errs validation.Errors, out map[string]string) {
	for field, err := range errs {
		name := field
		if prefix != "" {
			name = prefix + "." + field
		}
		var nested validation.Errors
		if errors.As(err, &nested) {
			flatten(name, nested, out)
			continue
		}
		out[name] = err.Error()
	}
}

// Submit validates the values and, when they are valid, creates or updates the
// record. A success notifies and navigates to the list route. A failure
// notifies with the server message and keeps the values for another try.
// Invalid values issue no request.
func (c *Controller[T]) Submit(ctx context.Context) (T, error) {
	var zero T

	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return zero, ErrClosed
	case !c.ready:
		c.mu.Unlock()
		return zero, ErrNotReady
	case c.submitting:
		c.mu.Unlock()
		return zero, ErrSubmitting
	}
	if err := c.validateLocked(); err != nil {
		fields := fieldKeys(c.fieldErrs)
		c.mu.Unlock()
		c.logger.Debug().Strs("fields", fields).Msg("submission blocked by validation")
		return zero, err
	}
	body, err := Clone(c.values)
	if err != nil {
		c.mu.Unlock()
		return zero, err
	}
	c.submitting = true
	c.mu.Unlock()

	var saved T
	if c.mode == ModeEdit {
		saved, err = c.ctrl.Update(ctx, c.id, body)
	} else {
		saved, err = c.ctrl.Create(ctx, body)
	}

	c.mu.Lock()
	c.submitting = false
	c.mu.Unlock()

	if err != nil {
		notify.Error(c.notifier, c.failureTitle(), err)
		return zero, err
	}

	notify.Success(c.notifier, c.successTitle(), "Your changes were saved.")
	if c.navigator != nil {
		c.navigator.Navigate(c.listRoute)
	}
	return saved, nil
}

func (c *Controller[T]) successTitle() string {
	if c.mode == ModeEdit {
		return c.title + " updated"
	}
	return c.title + " created"
}

func (c *Controller[T]) failureTitle() string {
	if c.mode == ModeEdit {
		return "Could not update " + c.title
	}
	return "Could not create " + c.title
}

// Close unmounts the form and stops following the record.
func (c *Controller[T]) Close() {
	c.mu.Lock()
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func fieldKeys(errs validation.Errors) []string {
	keys := make([]string, 0, len(errs))
	for k := range errs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies v through msgpack so form values never share memory with
// cached records. Timestamps keep the location they had in v.
func Clone[T any](v T) (T, error) {
	var out T
	data, err := msgpack.Marshal(v)
	if err != nil {
		return out, fmt.Errorf("form: copy values: %w", err)
	}
	if err := msgpack.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("form: copy values: %w", err)
	}
	keepLocations(reflect.ValueOf(&out).Elem(), reflect.ValueOf(v))
	return out, nil
}

var timeType = reflect.TypeOf(time.Time{})

// keepLocations walks dst and src in step. msgpack decodes every time.Time
// into time.Local, which changes how an untouched value serializes.
func keepLocations(dst, src reflect.Value) {
	switch src.Kind() {
	case reflect.Pointer:
		if src.IsNil() || dst.IsNil() {
			return
		}
		keepLocations(dst.Elem(), src.Elem())
	case reflect.Struct:
		if src.Type() == timeType {
			if dst.CanSet() {
				loc := src.Interface().(time.Time).Location()
				dst.Set(reflect.ValueOf(dst.Interface().(time.Time).In(loc)))
			}
			return
		}
		for i := range src.NumField() {
			if src.Type().Field(i).IsExported() {
				keepLocations(dst.Field(i), src.Field(i))
			}
		}
	case reflect.Slice, reflect.Array:
		for i := range min(src.Len(), dst.Len()) {
			keepLocations(dst.Index(i), src.Index(i))
		}
	}
}
