package tui

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/exp/teatest"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/internal/config"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pagination"
	"github.com/connor-davis/threereco-admin/pkg/di"
	"github.com/connor-davis/threereco-admin/pkg/testsupport"
)

// stripANSI removes ANSI escape sequences from a string.
func stripANSI(s string) string {
	var out []byte
	for i := 0; i < len(s); {
		if s[i] == '\x1b' && i+1 < len(s) && s[i+1] == '[' {
			j := i + 2
			for j < len(s) && (s[j] < 'A' || s[j] > 'Z') && (s[j] < 'a' || s[j] > 'z') {
				j++
			}
			i = j + 1
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

type fixture struct {
	api     *testsupport.FakeAPI
	notices *notify.Recorder
	view    *pagination.View[domain.Product]
}

func newFixture(t *testing.T, products ...string) fixture {
	t.Helper()
	api := testsupport.StartFakeAPI(t)
	for _, name := range products {
		api.Seed(domain.ResourceProducts, domain.Product{Name: name})
	}
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = api.URL()
	notices := &notify.Recorder{}
	container, err := di.NewContainer(cfg, di.WithNotifier(notices))
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	view, err := di.NewListView(container, container.Products)
	if err != nil {
		t.Fatalf("NewListView: %v", err)
	}
	return fixture{api: api, notices: notices, view: view}
}

// loaded returns a model whose first page has been fetched.
func (f fixture) loaded(t *testing.T) Model[domain.Product] {
	t.Helper()
	m := New(context.Background(), "Products", f.view, f.notices)
	if err := f.view.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	updated, _ := m.Update(LoadedMsg{})
	return updated.(Model[domain.Product])
}

func press(t *testing.T, m Model[domain.Product], keys ...string) (Model[domain.Product], tea.Cmd) {
	t.Helper()
	var cmd tea.Cmd
	for _, k := range keys {
		var msg tea.KeyMsg
		switch k {
		case "down":
			msg = tea.KeyMsg{Type: tea.KeyDown}
		case "up":
			msg = tea.KeyMsg{Type: tea.KeyUp}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "enter":
			msg = tea.KeyMsg{Type: tea.KeyEnter}
		default:
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
		}
		var updated tea.Model
		updated, cmd = m.Update(msg)
		m = updated.(Model[domain.Product])
	}
	return m, cmd
}

func deleteCount(api *testsupport.FakeAPI) int {
	n := 0
	for _, c := range api.Calls() {
		if c.Method == http.MethodDelete {
			n++
		}
	}
	return n
}

func TestList_RendersRows(t *testing.T) {
	// Given: a loaded product list
	f := newFixture(t, "PET", "Cardboard", "Glass")
	m := f.loaded(t)

	// Then: every product is listed with the cursor on the first
	plain := stripANSI(m.View())
	for _, name := range []string{"PET", "Cardboard", "Glass"} {
		if !strings.Contains(plain, name) {
			t.Errorf("view should contain %q, got:\n%s", name, plain)
		}
	}
	if !strings.Contains(plain, CursorMarker+"PET") {
		t.Errorf("cursor should start on the first row, got:\n%s", plain)
	}
	if !strings.Contains(plain, "Page 1 of 1 · 10 per page") {
		t.Errorf("view should show the page status, got:\n%s", plain)
	}
}

func TestList_CursorWraps(t *testing.T) {
	f := newFixture(t, "PET", "Cardboard")
	m := f.loaded(t)

	m, _ = press(t, m, "up")
	if m.Cursor() != 1 {
		t.Errorf("up from the first row should wrap, cursor = %d", m.Cursor())
	}
	m, _ = press(t, m, "down")
	if m.Cursor() != 0 {
		t.Errorf("down from the last row should wrap, cursor = %d", m.Cursor())
	}
}

func TestList_FilterSendsNoRequest(t *testing.T) {
	f := newFixture(t, "PET", "Cardboard", "Glass")
	m := f.loaded(t)
	before := len(f.api.Calls())

	m, _ = press(t, m, "/", "c", "r", "d")
	if !m.Filtering() {
		t.Fatal("slash should focus the filter")
	}
	rows := f.view.Rows()
	if len(rows) != 1 || rows[0].Item.Name != "Cardboard" {
		t.Errorf("filter should keep Cardboard only, got %+v", rows)
	}
	if len(f.api.Calls()) != before {
		t.Errorf("filtering should not hit the API, calls: %v", f.api.Calls()[before:])
	}

	m, _ = press(t, m, "esc")
	if m.Filtering() || len(f.view.Rows()) != 3 {
		t.Errorf("esc should clear the filter, rows = %d", len(f.view.Rows()))
	}
}

func TestList_DeleteNeedsConfirmation(t *testing.T) {
	// Given: a loaded list with the cursor on Glass
	f := newFixture(t, "PET", "Glass")
	m := f.loaded(t)
	m, _ = press(t, m, "down")

	// When: delete is requested
	m, cmd := press(t, m, "d")

	// Then: a prompt is shown and nothing is sent
	if cmd != nil {
		t.Error("requesting a delete should not run a command")
	}
	if plain := stripANSI(m.View()); !strings.Contains(plain, "Delete Glass?") {
		t.Errorf("view should ask for confirmation, got:\n%s", plain)
	}
	if n := deleteCount(f.api); n != 0 {
		t.Errorf("no delete should be sent yet, got %d", n)
	}

	// When: the delete is confirmed
	m, cmd = press(t, m, "y")
	if cmd == nil {
		t.Fatal("confirming should run the delete")
	}
	updated, _ := m.Update(cmd())
	m = updated.(Model[domain.Product])

	// Then: exactly one delete went out and the list shrank
	if n := deleteCount(f.api); n != 1 {
		t.Errorf("expected exactly one DELETE, got %d", n)
	}
	plain := stripANSI(m.View())
	if strings.Contains(plain, "Glass") {
		t.Errorf("Glass should be gone, got:\n%s", plain)
	}
	if !strings.Contains(plain, "✓ Product deleted") {
		t.Errorf("view should show the success notice, got:\n%s", plain)
	}
	if m.Cursor() != 0 {
		t.Errorf("cursor should be clamped to the remaining row, got %d", m.Cursor())
	}
}

func TestList_CancelDelete(t *testing.T) {
	f := newFixture(t, "PET")
	m := f.loaded(t)

	m, _ = press(t, m, "d", "n")
	if f.view.Snapshot().PendingDelete != "" {
		t.Error("n should cancel the pending delete")
	}
	if plain := stripANSI(m.View()); strings.Contains(plain, "Delete PET?") {
		t.Errorf("prompt should be gone, got:\n%s", plain)
	}
}

func TestList_ErrorState(t *testing.T) {
	f := newFixture(t, "PET")
	f.api.FailNext(http.MethodGet, "/api/products", http.StatusInternalServerError, `{"message":"database unavailable"}`)
	m := New(context.Background(), "Products", f.view, f.notices)
	_ = f.view.Load(context.Background())
	updated, _ := m.Update(LoadedMsg{})
	m = updated.(Model[domain.Product])

	plain := stripANSI(m.View())
	if !strings.Contains(plain, "Error: database unavailable") {
		t.Errorf("view should show the server message, got:\n%s", plain)
	}
	if !strings.Contains(plain, "Press r to retry") {
		t.Errorf("view should offer a retry, got:\n%s", plain)
	}
}

func TestList_EmptyState(t *testing.T) {
	f := newFixture(t)
	m := f.loaded(t)

	if plain := stripANSI(m.View()); !strings.Contains(plain, "Nothing here yet") {
		t.Errorf("view should show the empty state, got:\n%s", plain)
	}
}

func TestList_NextPageAtLastPageIsNoop(t *testing.T) {
	f := newFixture(t, "PET")
	m := f.loaded(t)

	_, cmd := press(t, m, "l")
	if cmd != nil {
		t.Error("next on the last page should not run a command")
	}
}

func TestList_PageSizeCycles(t *testing.T) {
	f := newFixture(t, "PET")
	m := f.loaded(t)

	_, cmd := press(t, m, "s")
	if cmd == nil {
		t.Fatal("page size should run a load")
	}
	if msg := cmd(); msg.(LoadedMsg).Err != nil {
		t.Fatalf("load failed: %v", msg.(LoadedMsg).Err)
	}
	if got := f.view.Snapshot().PageSize; got != 20 {
		t.Errorf("page size = %d, want 20", got)
	}
}

func TestList_Teatest_DeleteFlow(t *testing.T) {
	f := newFixture(t, "PET", "Cardboard")
	m := New(context.Background(), "Products", f.view, f.notices)

	tm := teatest.NewTestModel(t, m, teatest.WithInitialTermSize(80, 24))

	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Cardboard"))
	}, teatest.WithDuration(2*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyDown})
	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("d")})
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Delete Cardboard?"))
	}, teatest.WithDuration(2*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("y")})
	teatest.WaitFor(t, tm.Output(), func(out []byte) bool {
		return bytes.Contains(out, []byte("Product deleted"))
	}, teatest.WithDuration(2*time.Second))

	tm.Send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	tm.WaitFinished(t, teatest.WithFinalTimeout(2*time.Second))

	final := tm.FinalModel(t).(Model[domain.Product])
	if !final.quitting {
		t.Error("final model should be quitting")
	}
	if got := f.api.Records(domain.ResourceProducts); len(got) != 1 || got[0]["name"] != "PET" {
		t.Errorf("only PET should remain, got %v", got)
	}
}
