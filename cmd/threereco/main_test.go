package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connor-davis/threereco-admin/auth"
	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/export"
	"github.com/connor-davis/threereco-admin/form"
	"github.com/connor-davis/threereco-admin/pkg/testsupport"
	"github.com/connor-davis/threereco-admin/transport"
)

// errExitCalled is a sentinel used to catch kong's os.Exit calls in tests.
var errExitCalled = errors.New("exit called")

type harness struct {
	api *testsupport.FakeAPI
	dir string
}

func newHarness(t *testing.T) harness {
	t.Helper()
	t.Setenv("THREERECO_API_TOKEN", "")
	t.Setenv("THREERECO_API_URL", "")
	t.Setenv("THREERECO_PASSWORD", "")
	return harness{api: testsupport.StartFakeAPI(t), dir: t.TempDir()}
}

// run executes one command line with stdin as input and returns its output.
func (h harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	s := &streams{in: strings.NewReader(stdin), out: &out, err: io.Discard}

	var cli CLI
	parser, err := newParser(&cli, s,
		kong.BindTo(context.Background(), (*context.Context)(nil)),
		kong.Exit(func(int) { panic(errExitCalled) }),
	)
	require.NoError(t, err)

	full := append([]string{
		"--config", filepath.Join(h.dir, "config.yaml"),
		"--api-url", h.api.URL(),
		"--log-level", "error",
	}, args...)
	kctx, err := parser.Parse(full)
	if err != nil {
		return out.String(), err
	}
	err = kctx.Run(&cli.Globals)
	return out.String(), err
}

func TestVersionFlag(t *testing.T) {
	var cli CLI
	var buf bytes.Buffer
	s := &streams{in: strings.NewReader(""), out: &buf, err: &buf}
	k, err := newParser(&cli, s, kong.Exit(func(int) { panic(errExitCalled) }))
	require.NoError(t, err)

	defer func() {
		r := recover()
		require.NotNil(t, r, "expected panic from --version flag")
		if err, ok := r.(error); !ok || !errors.Is(err, errExitCalled) {
			panic(r)
		}
		assert.Contains(t, buf.String(), version)
	}()
	k.Parse([]string{"--version"}) //nolint:errcheck // --version exits through the hook
}

func TestLoginWhoamiLogout(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("admin@threereco.co.za", "s3cret!", domain.RoleAdmin)

	out, err := h.run(t, "s3cret!\n", "login", "admin@threereco.co.za")
	require.NoError(t, err)
	assert.Contains(t, out, "Password: ")
	assert.Contains(t, out, "Signed in as admin@threereco.co.za (admin)")

	creds, err := loadCredentials(filepath.Join(h.dir, "credentials.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, creds.Token)

	out, err = h.run(t, "", "whoami")
	require.NoError(t, err, "a later command should reuse the saved session")
	assert.Contains(t, out, "role: admin")
	assert.Contains(t, out, "can manage records: yes")

	out, err = h.run(t, "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed out.")
	_, statErr := os.Stat(filepath.Join(h.dir, "credentials.yaml"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = h.run(t, "", "whoami")
	require.Error(t, err)
	assert.True(t, transport.IsUnauthorized(err))
	assert.Equal(t, 3, exitCode(err))
}

func TestLoginWrongPassword(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("admin@threereco.co.za", "s3cret!", domain.RoleAdmin)

	_, err := h.run(t, "", "login", "admin@threereco.co.za", "--password", "nope")
	require.Error(t, err)
	assert.True(t, transport.IsUnauthorized(err))
	assert.Equal(t, "invalid email or password", describe(err), "a failed login needs no login hint")
	_, statErr := os.Stat(filepath.Join(h.dir, "credentials.yaml"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestList(t *testing.T) {
	h := newHarness(t)
	h.api.Seed(domain.ResourceProducts,
		domain.Product{Name: "PET", GWCode: "GW-01"},
		domain.Product{Name: "Cardboard", GWCode: "GW-02"},
	)

	out, err := h.run(t, "", "list", "products")
	require.NoError(t, err)
	assert.Contains(t, out, "PET")
	assert.Contains(t, out, "Cardboard")
	assert.Contains(t, out, "Page 1 of 1 · 10 per page")

	out, err = h.run(t, "", "list", "products", "--filter", "crd", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Cardboard"`)
	assert.NotContains(t, out, `"name": "PET"`)

	call, ok := h.api.LastCall(http.MethodGet, "/api/products")
	require.True(t, ok)
	assert.Equal(t, "10", call.Query.Get("pageSize"))
}

func TestList_PageAndSize(t *testing.T) {
	h := newHarness(t)
	for i := 1; i <= 25; i++ {
		h.api.Seed(domain.ResourceProducts, domain.Product{Name: fmt.Sprintf("Product %02d", i)})
	}

	out, err := h.run(t, "", "list", "products", "--page", "2", "--page-size", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "Product 25")
	assert.Contains(t, out, "Page 2 of 2 · 20 per page")

	_, err = h.run(t, "", "list", "products", "--page-size", "7")
	assert.Error(t, err)
}

func TestList_UnknownResource(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "list", "widgets")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown resource "widgets"`)
	assert.Empty(t, h.api.Calls())
}

func TestShow(t *testing.T) {
	h := newHarness(t)
	ids := h.api.Seed(domain.ResourceBusinesses, domain.Business{Name: "Acme", Type: domain.BusinessTypeRecycler})

	out, err := h.run(t, "", "show", "businesses", ids[0])
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Acme"`)

	_, err = h.run(t, "", "show", "businesses", "missing")
	require.Error(t, err)
	assert.True(t, transport.IsNotFound(err))
}

func TestCreate(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "create", "products", "--set", "name=PET", "--set", "price=2.5", "--set", "gwCode=0101")
	require.NoError(t, err)
	assert.Contains(t, out, "Product created")

	call, ok := h.api.LastCall(http.MethodPost, "/api/products")
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"PET","gwCode":"0101","price":2.5}`, string(call.Body))
	require.Len(t, h.api.Records(domain.ResourceProducts), 1)
}

func TestCreate_FromFile(t *testing.T) {
	h := newHarness(t)
	path := filepath.Join(h.dir, "business.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name":"Acme","type":"Recycler"}`), 0o600))

	out, err := h.run(t, "", "create", "businesses", "--file", path, "--set", "name=Acme Recycling")
	require.NoError(t, err)
	assert.Contains(t, out, `"name": "Acme Recycling"`)
	assert.Contains(t, out, "Business created")
}

func TestCreate_InvalidValuesSendNothing(t *testing.T) {
	h := newHarness(t)

	out, err := h.run(t, "", "create", "businesses", "--set", "type=Recycler")
	require.ErrorIs(t, err, form.ErrInvalid)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, out, "name: cannot be blank")

	_, err = h.run(t, "", "create", "products", "--set", "nmae=PET")
	require.ErrorIs(t, err, form.ErrInvalid)
	assert.Equal(t, 2, exitCode(err))

	assert.Zero(t, h.api.CallCount(http.MethodPost, "/api/businesses"))
	assert.Zero(t, h.api.CallCount(http.MethodPost, "/api/products"))
}

func TestEdit(t *testing.T) {
	h := newHarness(t)
	ids := h.api.Seed(domain.ResourceProducts, domain.Product{Name: "PET", GWCode: "GW-01", Price: 2.5})

	out, err := h.run(t, "", "edit", "products", ids[0], "--set", "price=3")
	require.NoError(t, err)
	assert.Contains(t, out, "Product updated")

	assert.Equal(t, 1, h.api.CallCount(http.MethodPut, "/api/products/"+ids[0]))
	call, ok := h.api.LastCall(http.MethodPut, "/api/products/"+ids[0])
	require.True(t, ok)
	assert.Contains(t, string(call.Body), `"name":"PET"`)
	assert.Contains(t, string(call.Body), `"price":3`)

	_, err = h.run(t, "", "edit", "products", "missing", "--set", "price=3")
	require.Error(t, err)
	assert.True(t, transport.IsNotFound(err))
}

func TestDelete_AsksFirst(t *testing.T) {
	h := newHarness(t)
	ids := h.api.Seed(domain.ResourceProducts, domain.Product{Name: "PET"})

	out, err := h.run(t, "n\n", "delete", "products", ids[0])
	require.NoError(t, err)
	assert.Contains(t, out, "Delete Product "+ids[0]+"?")
	assert.Contains(t, out, "Cancelled.")
	assert.Zero(t, h.api.CallCount(http.MethodDelete, "/api/products/"+ids[0]))

	out, err = h.run(t, "y\n", "delete", "products", ids[0])
	require.NoError(t, err)
	assert.Contains(t, out, "Product deleted")
	assert.Equal(t, 1, h.api.CallCount(http.MethodDelete, "/api/products/"+ids[0]))
}

func TestDelete_ConflictIsReported(t *testing.T) {
	h := newHarness(t)
	ids := h.api.Seed(domain.ResourceCollectors, domain.Collector{FirstName: "Thandi", LastName: "Nkosi"})
	h.api.Seed(domain.ResourceCollections, domain.Collection{CollectorID: ids[0]})

	out, err := h.run(t, "", "delete", "collectors", ids[0], "--yes")
	require.Error(t, err)
	assert.True(t, transport.IsConflict(err))
	assert.Contains(t, out, "Could not delete Collector: cannot delete collector: it is referenced by collections")
}

func TestExport(t *testing.T) {
	h := newHarness(t)
	h.api.Seed(domain.ResourceCollections,
		domain.Collection{BusinessID: "b1", CollectorID: "c1", ProductID: "p1", Weight: 12.5},
	)
	dir := filepath.Join(h.dir, "exports")

	out, err := h.run(t, "", "export", "collections", "--from", "2024-01-01", "--to", "2024-01-31", "--dir", dir, "--pdf")
	require.NoError(t, err)

	csvPath := filepath.Join(dir, "collections_2024-01-01_2024-01-31.csv")
	pdfPath := filepath.Join(dir, "collections_2024-01-01_2024-01-31.pdf")
	assert.Contains(t, out, csvPath)
	assert.Contains(t, out, pdfPath)

	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "weight")
	pdf, err := os.ReadFile(pdfPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF-")))

	call, ok := h.api.LastCall(http.MethodGet, "/api/collections/export")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01", call.Query.Get("startDate"))
}

func TestExport_InvalidRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "export", "collections", "--from", "2024-02-01", "--to", "2024-01-01")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Empty(t, h.api.Calls())
}

func TestMFA(t *testing.T) {
	h := newHarness(t)
	h.api.AddUser("admin@threereco.co.za", "s3cret!", domain.RoleAdmin)
	_, err := h.run(t, "", "login", "admin@threereco.co.za", "--password", "s3cret!")
	require.NoError(t, err)

	png := filepath.Join(h.dir, "mfa.png")
	out, err := h.run(t, "", "mfa", "enable", "--png", png)
	require.NoError(t, err)
	assert.Contains(t, out, "Secret: JBSWY3DPEHPK3PXP")
	_, err = os.Stat(png)
	assert.NoError(t, err)

	h.api.ResetCalls()
	_, err = h.run(t, "", "mfa", "verify", "12ab56")
	require.ErrorIs(t, err, auth.ErrInvalidCode)
	assert.Equal(t, 2, exitCode(err))
	assert.Empty(t, h.api.Calls())

	out, err = h.run(t, "", "mfa", "verify", "123456")
	require.NoError(t, err)
	assert.Contains(t, out, "Two-factor authentication enabled.")
}

func TestBrowseNeedsTerminal(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "", "browse", "products")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "needs a terminal")
}

func TestDescribe_ExpiredSessionHintsLogin(t *testing.T) {
	h := newHarness(t)
	h.api.Seed(domain.ResourceProducts, domain.Product{Name: "PET"})
	for _, path := range []string{"/api/products", "/api/products/paging"} {
		h.api.FailNext(http.MethodGet, path, http.StatusUnauthorized, `{"message":"session expired"}`)
	}

	_, err := h.run(t, "", "list", "products")
	require.Error(t, err)
	assert.Equal(t, "session expired (run threereco login)", describe(err))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid form", fmt.Errorf("%w: name", form.ErrInvalid), 2},
		{"invalid range", export.ErrInvalidRange, 2},
		{"unauthorized", &transport.APIError{StatusCode: http.StatusUnauthorized}, 3},
		{"other", errors.New("boom"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
