package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/goccy/go-json"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/form"
	"github.com/connor-davis/threereco-admin/internal/tui"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pagination"
	"github.com/connor-davis/threereco-admin/pkg/di"
	"github.com/connor-davis/threereco-admin/resource"
)

type listOptions struct {
	Page     int
	PageSize int
	Filter   string
	JSON     bool
}

// resourceOps erases the entity type so commands can pick a resource by name.
type resourceOps struct {
	list   func(ctx context.Context, w io.Writer, opts listOptions) error
	show   func(ctx context.Context, w io.Writer, id string) error
	remove func(ctx context.Context, id string) error
	create func(ctx context.Context, w io.Writer, values fieldValues) error
	edit   func(ctx context.Context, w io.Writer, id string, values fieldValues) error
	browse func(ctx context.Context, notices *notify.Recorder) (tea.Model, error)
}

// fieldValues are the field values given on the command line: a JSON object
// from a file, then name=value pairs on top of it.
type fieldValues struct {
	file []byte
	set  map[string]string
}

func opsFor[T domain.Entity](c *di.Container, ctrl *resource.Controller[T]) resourceOps {
	title := di.Title(ctrl.Name())
	return resourceOps{
		list: func(ctx context.Context, w io.Writer, opts listOptions) error {
			view, err := di.NewListView(c, ctrl)
			if err != nil {
				return err
			}
			defer view.Close()
			if opts.PageSize != 0 {
				if err := view.SetPageSize(ctx, opts.PageSize); err != nil {
					return err
				}
			} else if err := view.Load(ctx); err != nil {
				return err
			}
			// the page count is only known after the first load
			if opts.Page > 1 {
				if err := view.SetPage(ctx, opts.Page); err != nil {
					return err
				}
			}
			view.SetFilter(opts.Filter)
			return writeList(w, view.Snapshot(), opts.JSON)
		},
		show: func(ctx context.Context, w io.Writer, id string) error {
			st := ctrl.GetByID(ctx, id)
			if st.Failed() {
				return st.Err
			}
			return writeJSON(w, st.Data)
		},
		remove: func(ctx context.Context, id string) error {
			if err := ctrl.Remove(ctx, id); err != nil {
				notify.Error(c.Notifier(), "Could not delete "+title, err)
				return err
			}
			notify.Success(c.Notifier(), title+" deleted", "The record was removed.")
			return nil
		},
		create: func(ctx context.Context, w io.Writer, values fieldValues) error {
			var zero T
			f, err := di.NewCreateForm(c, ctrl, zero, nil)
			if err != nil {
				return err
			}
			defer f.Close()
			return submit(ctx, w, f, values)
		},
		edit: func(ctx context.Context, w io.Writer, id string, values fieldValues) error {
			f := di.NewEditForm(c, ctrl, id, nil)
			defer f.Close()
			if err := f.Load(ctx); err != nil {
				return err
			}
			return submit(ctx, w, f, values)
		},
		browse: func(ctx context.Context, notices *notify.Recorder) (tea.Model, error) {
			view, err := di.NewListView(c, ctrl)
			if err != nil {
				return nil, err
			}
			return tui.New(ctx, title+" list", view, notices), nil
		},
	}
}

// resources maps every resource name to its operations.
func resources(c *di.Container) map[string]resourceOps {
	return map[string]resourceOps{
		domain.ResourceBusinesses:  opsFor(c, c.Businesses),
		domain.ResourceCollectors:  opsFor(c, c.Collectors),
		domain.ResourceProducts:    opsFor(c, c.Products),
		domain.ResourceCollections: opsFor(c, c.Collections),
		domain.ResourceUsers:       opsFor(c, c.Users),
		domain.ResourceStaff:       opsFor(c, c.Staff),
	}
}

func lookup(c *di.Container, name string) (resourceOps, error) {
	ops, ok := resources(c)[name]
	if !ok {
		return resourceOps{}, fmt.Errorf("unknown resource %q (want one of %v)", name, c.Resources())
	}
	return ops, nil
}

// patch merges values into one JSON object. A value that T cannot take as
// JSON (a name, or digits for a string field) is sent as a string.
func patch[T any](values fieldValues) ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if len(values.file) > 0 {
		if err := json.Unmarshal(values.file, &fields); err != nil {
			return nil, fmt.Errorf("%w: values file: %w", form.ErrInvalid, err)
		}
	}
	for name, value := range values.set {
		raw := json.RawMessage(value)
		if !fits[T](name, raw) {
			quoted, err := json.Marshal(value)
			if err != nil {
				return nil, err
			}
			raw = quoted
		}
		fields[name] = raw
	}
	return json.Marshal(fields)
}

func fits[T any](name string, raw json.RawMessage) bool {
	if !json.Valid(raw) {
		return false
	}
	one, err := json.Marshal(map[string]json.RawMessage{name: raw})
	if err != nil {
		return false
	}
	var dst T
	return json.Unmarshal(one, &dst) == nil
}

// submit applies values to the form and saves it. Unknown fields and invalid
// values are rejected before any request.
func submit[T domain.Entity](ctx context.Context, w io.Writer, f *form.Controller[T], values fieldValues) error {
	body, err := patch[T](values)
	if err != nil {
		return err
	}
	var decodeErr error
	if err := f.Set(func(v *T) {
		dec := json.NewDecoder(bytes.NewReader(body))
		dec.DisallowUnknownFields()
		decodeErr = dec.Decode(v)
	}); err != nil {
		return err
	}
	if decodeErr != nil {
		return fmt.Errorf("%w: %w", form.ErrInvalid, decodeErr)
	}

	saved, err := f.Submit(ctx)
	if errors.Is(err, form.ErrInvalid) {
		errs := f.FieldErrors()
		for _, name := range f.FieldNames() {
			fmt.Fprintf(w, "  %s: %s\n", name, errs[name])
		}
	}
	if err != nil {
		return err
	}
	return writeJSON(w, saved)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func writeList[T domain.Entity](w io.Writer, snap pagination.Snapshot[T], asJSON bool) error {
	if asJSON {
		items := make([]T, len(snap.Rows))
		for i, row := range snap.Rows {
			items[i] = row.Item
		}
		return writeJSON(w, items)
	}
	if len(snap.Rows) == 0 {
		_, err := fmt.Fprintln(w, "No records.")
		return err
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	for _, row := range snap.Rows {
		t.Row(row.Item.GetID(), row.Label)
	}
	_, err := fmt.Fprintf(w, "%s\nPage %d of %d · %d per page\n", t.Render(), snap.Page, max(snap.TotalPages, 1), snap.PageSize)
	return err
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
