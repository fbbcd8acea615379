// Package tui is the terminal browser for one resource list.
package tui

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pagination"
	"github.com/connor-davis/threereco-admin/query"
)

// LoadedMsg carries the outcome of a page load.
type LoadedMsg struct {
	Err error
}

// DeletedMsg carries the outcome of a confirmed delete.
type DeletedMsg struct {
	Err error
}

// Model is the Bubble Tea model of a list screen. The pagination view owns
// the list state; the model owns the cursor and the filter input.
type Model[T domain.Entity] struct {
	ctx     context.Context
	title   string
	view    *pagination.View[T]
	notices *notify.Recorder

	keys    listKeys
	help    help.Model
	spinner spinner.Model
	filter  textinput.Model

	filtering bool
	cursor    int
	width     int
	quitting  bool
}

// New creates a list screen over view. notices should be the notifier the
// view reports to; its latest entry is shown in the footer.
func New[T domain.Entity](ctx context.Context, title string, view *pagination.View[T], notices *notify.Recorder) Model[T] {
	s := spinner.New()
	s.Spinner = spinner.Dot

	ti := textinput.New()
	ti.Prompt = "/ "
	ti.Placeholder = "filter this page"

	return Model[T]{
		ctx:     ctx,
		title:   title,
		view:    view,
		notices: notices,
		keys:    ListKeyMap(),
		help:    help.New(),
		spinner: s,
		filter:  ti,
	}
}

// Init loads the first page.
func (m Model[T]) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.run(m.view.Load))
}

func (m Model[T]) run(op func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return LoadedMsg{Err: op(ctx)}
	}
}

// Update handles incoming messages.
func (m Model[T]) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case LoadedMsg:
		m.clampCursor()
		return m, nil

	case DeletedMsg:
		m.clampCursor()
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.help.Width = msg.Width
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model[T]) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		m.filtering = false
		m.filter.Blur()
		return m, nil
	case tea.KeyEsc:
		m.filtering = false
		m.filter.Blur()
		m.filter.SetValue("")
		m.view.SetFilter("")
		m.cursor = 0
		return m, nil
	}

	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.view.SetFilter(m.filter.Value())
	m.cursor = 0
	return m, cmd
}

func (m Model[T]) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	snap := m.view.Snapshot()

	if snap.PendingDelete != "" {
		switch {
		case key.Matches(msg, m.keys.Confirm):
			if snap.Deleting {
				return m, nil
			}
			view, ctx := m.view, m.ctx
			return m, func() tea.Msg { return DeletedMsg{Err: view.ConfirmDelete(ctx)} }
		case key.Matches(msg, m.keys.Cancel):
			m.view.CancelDelete()
			return m, nil
		case key.Matches(msg, m.keys.Quit):
			return m.quit()
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()

	case key.Matches(msg, m.keys.Up):
		if n := len(snap.Rows); n > 0 {
			m.cursor = (m.cursor - 1 + n) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		if n := len(snap.Rows); n > 0 {
			m.cursor = (m.cursor + 1) % n
		}
		return m, nil

	case key.Matches(msg, m.keys.Next):
		if !snap.CanGoNext {
			return m, nil
		}
		m.resetFilter()
		return m, m.run(m.view.Next)

	case key.Matches(msg, m.keys.Previous):
		if !snap.CanGoPrevious {
			return m, nil
		}
		m.resetFilter()
		return m, m.run(m.view.Previous)

	case key.Matches(msg, m.keys.PageSize):
		sizes := m.view.PageSizes()
		next := sizes[(slices.Index(sizes, snap.PageSize)+1)%len(sizes)]
		m.resetFilter()
		view := m.view
		return m, m.run(func(ctx context.Context) error { return view.SetPageSize(ctx, next) })

	case key.Matches(msg, m.keys.Refresh):
		return m, m.run(m.view.Refresh)

	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		return m, m.filter.Focus()

	case key.Matches(msg, m.keys.Delete):
		if row, ok := m.selected(snap); ok {
			_ = m.view.RequestDelete(row.Item.GetID())
		}
		return m, nil
	}
	return m, nil
}

func (m Model[T]) quit() (tea.Model, tea.Cmd) {
	m.quitting = true
	m.view.Close()
	return m, tea.Quit
}

func (m *Model[T]) resetFilter() {
	m.filter.SetValue("")
	m.cursor = 0
}

func (m *Model[T]) clampCursor() {
	n := len(m.view.Rows())
	if m.cursor >= n {
		m.cursor = max(n-1, 0)
	}
}

func (m Model[T]) selected(snap pagination.Snapshot[T]) (pagination.Row[T], bool) {
	if m.cursor < 0 || m.cursor >= len(snap.Rows) {
		return pagination.Row[T]{}, false
	}
	return snap.Rows[m.cursor], true
}

// Cursor returns the selected row index.
func (m Model[T]) Cursor() int { return m.cursor }

// Filtering reports whether the filter input has focus.
func (m Model[T]) Filtering() bool { return m.filtering }

// View renders the list screen.
func (m Model[T]) View() string {
	if m.quitting {
		return ""
	}
	snap := m.view.Snapshot()

	var b strings.Builder
	b.WriteString(titleText.Render(m.title))
	b.WriteString("\n\n")

	if m.filtering || snap.Filter != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n\n")
	}

	b.WriteString(m.body(snap))
	b.WriteString("\n\n")
	b.WriteString(mutedText.Render(fmt.Sprintf("Page %d of %d · %d per page", snap.Page, max(snap.TotalPages, 1), snap.PageSize)))

	if snap.PendingDelete != "" {
		b.WriteString("\n\n")
		b.WriteString(promptBox.Render(m.deletePrompt(snap)))
	}
	if m.notices != nil {
		if n, ok := m.notices.Last(); ok {
			b.WriteString("\n\n")
			b.WriteString(noticeLine(n))
		}
	}

	b.WriteString("\n\n")
	if snap.PendingDelete != "" {
		b.WriteString(m.help.View(confirmKeys{Confirm: m.keys.Confirm, Cancel: m.keys.Cancel}))
	} else {
		b.WriteString(m.help.View(m.keys))
	}
	return b.String()
}

func (m Model[T]) body(snap pagination.Snapshot[T]) string {
	switch {
	case snap.Status == query.StatusLoading && len(snap.Rows) == 0:
		return m.spinner.View() + " Loading..."
	case snap.Status == query.StatusError:
		return errorText.Render("Error: "+notify.Message(snap.Err)) + "\n\nPress r to retry"
	case snap.Empty() && snap.Filter != "":
		return mutedText.Render("No rows on this page match " + fmt.Sprintf("%q", snap.Filter))
	case snap.Empty():
		return mutedText.Render("Nothing here yet")
	}

	var b strings.Builder
	for i, row := range snap.Rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		if i == m.cursor {
			b.WriteString(CursorMarker)
		} else {
			b.WriteString("  ")
		}
		b.WriteString(highlight(row.Label, row.Matched))
	}
	return b.String()
}

func (m Model[T]) deletePrompt(snap pagination.Snapshot[T]) string {
	if snap.Deleting {
		return m.spinner.View() + " Deleting..."
	}
	label := snap.PendingDelete
	for _, row := range snap.Rows {
		if row.Item.GetID() == snap.PendingDelete {
			label = row.Label
			break
		}
	}
	return fmt.Sprintf("Delete %s? This cannot be undone. (y/n)", label)
}
