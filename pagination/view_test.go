package pagination

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connor-davis/threereco-admin/cache"
	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pkg/testsupport"
	"github.com/connor-davis/threereco-admin/query"
	"github.com/connor-davis/threereco-admin/resource"
	"github.com/connor-davis/threereco-admin/transport"
)

type stack struct {
	api     *testsupport.FakeAPI
	queries *query.Cache
	client  *transport.Client
}

func newStack(t *testing.T) *stack {
	t.Helper()
	api := testsupport.StartFakeAPI(t)
	client, err := transport.New(api.URL())
	require.NoError(t, err)
	store, err := cache.NewCacheService(cache.DefaultConfig())
	require.NoError(t, err)
	return &stack{api: api, queries: query.New(store), client: client}
}

func controllerFor[T any](s *stack, name string, opts ...resource.Option) *resource.Controller[T] {
	return resource.New[T](name, resource.NewRESTSource[T](s.client, name), s.queries, opts...)
}

func seedProducts(s *stack, n int) {
	for i := 1; i <= n; i++ {
		s.api.Seed(domain.ResourceProducts, domain.Product{Name: fmt.Sprintf("Product %02d", i), Price: float64(i)})
	}
}

func TestView_DefaultsAndLoad(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 25)

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)

	snap := view.Snapshot()
	assert.Equal(t, 1, snap.Page)
	assert.Equal(t, 10, snap.PageSize)
	assert.Equal(t, query.StatusIdle, snap.Status)

	require.NoError(t, view.Load(context.Background()))

	snap = view.Snapshot()
	assert.Equal(t, query.StatusSuccess, snap.Status)
	assert.Equal(t, 3, snap.TotalPages)
	assert.Len(t, snap.Rows, 10)
	assert.False(t, snap.CanGoPrevious)
	assert.True(t, snap.CanGoNext)

	call, ok := s.api.LastCall(http.MethodGet, "/api/products")
	require.True(t, ok)
	assert.Equal(t, "1", call.Query.Get("page"))
	assert.Equal(t, "10", call.Query.Get("pageSize"))
}

func TestView_PageBounds(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 15)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))

	// previous on page 1 is a no-op
	s.api.ResetCalls()
	require.NoError(t, view.Previous(ctx))
	assert.Equal(t, 1, view.Snapshot().Page)
	assert.Empty(t, s.api.Calls())

	require.NoError(t, view.Next(ctx))
	snap := view.Snapshot()
	assert.Equal(t, 2, snap.Page)
	assert.Len(t, snap.Rows, 5)
	assert.False(t, view.CanGoNext())
	assert.True(t, view.CanGoPrevious())

	// next on the last page is a no-op
	s.api.ResetCalls()
	require.NoError(t, view.Next(ctx))
	assert.Equal(t, 2, view.Snapshot().Page)
	assert.Empty(t, s.api.Calls())

	// back to page 1 is served from cache, and the page count was never refetched
	require.NoError(t, view.Previous(ctx))
	assert.Equal(t, 1, view.Snapshot().Page)
	assert.Empty(t, s.api.Calls())

	assert.ErrorIs(t, view.SetPage(ctx, 3), ErrPageOutOfRange)
	assert.ErrorIs(t, view.SetPage(ctx, 0), ErrPageOutOfRange)
	require.NoError(t, view.SetPage(ctx, 2))
	assert.Equal(t, 2, view.Snapshot().Page)
}

func TestView_SetPageSize(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 25)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	require.NoError(t, view.Next(ctx))

	assert.ErrorIs(t, view.SetPageSize(ctx, 15), ErrPageSize)
	assert.Equal(t, 2, view.Snapshot().Page)

	require.NoError(t, view.SetPageSize(ctx, 20))
	snap := view.Snapshot()
	assert.Equal(t, 1, snap.Page)
	assert.Equal(t, 20, snap.PageSize)
	assert.Equal(t, 2, snap.TotalPages)
	assert.Len(t, snap.Rows, 20)
	assert.Equal(t, 2, s.api.CallCount(http.MethodGet, "/api/products/paging"), "one count per page size")
}

func TestView_ConfiguredPageSizes(t *testing.T) {
	s := newStack(t)
	ctrl := controllerFor[domain.Product](s, domain.ResourceProducts)

	_, err := New(ctrl, WithPageSizes(5, 50), WithPageSize(20))
	assert.ErrorIs(t, err, ErrPageSize)

	view, err := New(ctrl, WithPageSizes(5, 50))
	require.NoError(t, err)
	assert.Equal(t, 5, view.Snapshot().PageSize)
	assert.Equal(t, []int{5, 50}, view.PageSizes())
}

func TestView_FilterRanksCurrentPageOnly(t *testing.T) {
	s := newStack(t)
	s.api.Seed(domain.ResourceProducts,
		domain.Product{Name: "PET bottles", Price: 2},
		domain.Product{Name: "Cardboard", Price: 1},
		domain.Product{Name: "Glass", Price: 1.5},
	)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts),
		WithLabel(func(p domain.Product) string { return p.Name }))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))

	s.api.ResetCalls()
	view.SetFilter("crd")

	rows := view.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Cardboard", rows[0].Item.Name)
	assert.NotEmpty(t, rows[0].Matched)
	assert.Empty(t, s.api.Calls(), "filtering is client-side")

	view.SetFilter("")
	assert.Len(t, view.Rows(), 3)
}

func TestView_ErrorStateIsDistinct(t *testing.T) {
	s := newStack(t)
	s.api.FailNext(http.MethodGet, "/api/products", http.StatusInternalServerError, `{"error":"internal","message":"database unavailable"}`)

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)

	err = view.Load(context.Background())
	require.Error(t, err)

	snap := view.Snapshot()
	assert.Equal(t, query.StatusError, snap.Status)
	assert.False(t, snap.Empty())
	assert.Equal(t, "database unavailable", notify.Message(snap.Err))
}

func TestView_EmptyState(t *testing.T) {
	s := newStack(t)
	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)
	require.NoError(t, view.Load(context.Background()))

	snap := view.Snapshot()
	assert.True(t, snap.Empty())
	assert.Equal(t, 0, snap.TotalPages)
	assert.False(t, snap.CanGoNext)
}

// Deleting collector c1 issues exactly one DELETE, and only after the
// confirmation.
func TestView_DeleteAfterConfirmation(t *testing.T) {
	s := newStack(t)
	s.api.Seed(domain.ResourceCollectors,
		domain.Collector{ID: "c1", FirstName: "Thandi", LastName: "Nkosi"},
		domain.Collector{ID: "c2", FirstName: "Sipho", LastName: "Dlamini"},
	)
	rec := &notify.Recorder{}
	ctx := context.Background()

	view, err := New(controllerFor[domain.Collector](s, domain.ResourceCollectors, resource.WithRelated(domain.ResourceCollections)),
		WithNotifier(rec), WithTitle("Collector"))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))

	require.NoError(t, view.RequestDelete("c1"))
	assert.Equal(t, "c1", view.Snapshot().PendingDelete)
	assert.Equal(t, 0, s.api.CallCount(http.MethodDelete, "/api/collectors/c1"), "nothing sent before confirmation")

	require.NoError(t, view.ConfirmDelete(ctx))
	assert.Equal(t, 1, s.api.CallCount(http.MethodDelete, "/api/collectors/c1"))
	assert.ErrorIs(t, view.ConfirmDelete(ctx), ErrNoPendingDelete)
	assert.Equal(t, 1, s.api.CallCount(http.MethodDelete, "/api/collectors/c1"))

	snap := view.Snapshot()
	assert.Empty(t, snap.PendingDelete)
	require.Len(t, snap.Rows, 1)
	assert.Equal(t, "c2", snap.Rows[0].Item.ID)
	assert.Equal(t, 1, rec.Count(notify.LevelSuccess))
	assert.Equal(t, 0, rec.Count(notify.LevelError))
}

func TestView_CancelDeleteSendsNothing(t *testing.T) {
	s := newStack(t)
	s.api.Seed(domain.ResourceCollectors, domain.Collector{ID: "c1", FirstName: "Thandi", LastName: "Nkosi"})
	ctx := context.Background()

	view, err := New(controllerFor[domain.Collector](s, domain.ResourceCollectors))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))

	require.NoError(t, view.RequestDelete("c1"))
	view.CancelDelete()
	assert.ErrorIs(t, view.ConfirmDelete(ctx), ErrNoPendingDelete)
	assert.Equal(t, 0, s.api.CallCount(http.MethodDelete, "/api/collectors/c1"))
}

func TestView_DeleteConflictIsNotified(t *testing.T) {
	s := newStack(t)
	s.api.Seed(domain.ResourceCollectors, domain.Collector{ID: "c1", FirstName: "Thandi", LastName: "Nkosi"})
	s.api.Seed(domain.ResourceCollections, domain.Collection{CollectorID: "c1", Weight: 12})
	rec := &notify.Recorder{}
	ctx := context.Background()

	view, err := New(controllerFor[domain.Collector](s, domain.ResourceCollectors), WithNotifier(rec))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	s.api.ResetCalls()

	require.NoError(t, view.RequestDelete("c1"))
	err = view.ConfirmDelete(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsConflict(err))

	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, last.Level)
	assert.Equal(t, "cannot delete collector: it is referenced by collections", last.Message)

	assert.Len(t, view.Snapshot().Rows, 1)
	assert.Equal(t, 0, s.api.CallCount(http.MethodGet, "/api/collectors"), "failed delete does not reload")
}

func TestView_DeleteLastRowOfLastPageMovesBack(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 11)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	require.NoError(t, view.Next(ctx))

	last := view.Rows()[0].Item.ID
	require.NoError(t, view.RequestDelete(last))
	require.NoError(t, view.ConfirmDelete(ctx))

	snap := view.Snapshot()
	assert.Equal(t, 1, snap.Page)
	assert.Equal(t, 1, snap.TotalPages)
	assert.Len(t, snap.Rows, 10)
}

// Two screens showing products page 1 at the same time share one request.
func TestView_ConcurrentViewsShareOneRequest(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 3)
	ctx := context.Background()
	ctrl := controllerFor[domain.Product](s, domain.ResourceProducts)

	release := s.api.Hold(http.MethodGet, "/api/products")

	views := make([]*View[domain.Product], 2)
	for i := range views {
		v, err := New(ctrl)
		require.NoError(t, err)
		views[i] = v
	}

	var wg sync.WaitGroup
	errs := make([]error, len(views))
	for i, v := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = v.Load(ctx)
		}()
	}

	require.Eventually(t, func() bool {
		return s.api.CallCount(http.MethodGet, "/api/products") == 1
	}, time.Second, 5*time.Millisecond)
	release()
	wg.Wait()

	for i, v := range views {
		require.NoError(t, errs[i])
		assert.Len(t, v.Snapshot().Rows, 3)
	}
	assert.Equal(t, 1, s.api.CallCount(http.MethodGet, "/api/products"))
}

func TestView_ResultAfterCloseIsIgnored(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 3)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)

	release := s.api.Hold(http.MethodGet, "/api/products")
	done := make(chan error, 1)
	go func() { done <- view.Load(ctx) }()

	require.Eventually(t, func() bool {
		return s.api.CallCount(http.MethodGet, "/api/products") == 1
	}, time.Second, 5*time.Millisecond)
	view.Close()
	release()

	require.NoError(t, <-done)
	snap := view.Snapshot()
	assert.Equal(t, query.StatusLoading, snap.Status)
	assert.Empty(t, snap.Rows)

	assert.ErrorIs(t, view.Load(ctx), ErrClosed)
	assert.ErrorIs(t, view.RequestDelete("x"), ErrClosed)
}

func TestView_StalePageResultIsIgnored(t *testing.T) {
	s := newStack(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	products := make([]domain.Product, 25)
	for i := range products {
		products[i] = domain.Product{ID: fmt.Sprintf("p%02d", i), Name: fmt.Sprintf("Product %02d", i)}
	}

	source := resource.Funcs[domain.Product]{
		ListFn: func(ctx context.Context, params resource.Params) ([]domain.Product, error) {
			page, size := params["page"].(int), params["pageSize"].(int)
			if page == 2 {
				close(started)
				<-unblock
			}
			from := min((page-1)*size, len(products))
			return products[from:min(from+size, len(products))], nil
		},
		PageCountFn: func(ctx context.Context, pageSize int) (int, error) {
			return (len(products) + pageSize - 1) / pageSize, nil
		},
	}
	ctx := context.Background()

	view, err := New(resource.New[domain.Product](domain.ResourceProducts, source, s.queries))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))

	// page 2 hangs while the user moves on to another page size
	done := make(chan error, 1)
	go func() { done <- view.Next(ctx) }()
	<-started

	require.NoError(t, view.SetPageSize(ctx, 30))
	close(unblock)
	require.NoError(t, <-done)

	snap := view.Snapshot()
	assert.Equal(t, 30, snap.PageSize)
	assert.Equal(t, 1, snap.Page)
	assert.Len(t, snap.Rows, 25)
	assert.Equal(t, "p00", snap.Rows[0].Item.ID)
}

func TestView_RefreshRefetchesCurrentPage(t *testing.T) {
	s := newStack(t)
	seedProducts(s, 3)
	ctx := context.Background()

	view, err := New(controllerFor[domain.Product](s, domain.ResourceProducts))
	require.NoError(t, err)
	require.NoError(t, view.Load(ctx))
	require.NoError(t, view.Load(ctx))
	assert.Equal(t, 1, s.api.CallCount(http.MethodGet, "/api/products"))

	s.api.Seed(domain.ResourceProducts, domain.Product{Name: "Tins"})
	require.NoError(t, view.Refresh(ctx))

	assert.Equal(t, 2, s.api.CallCount(http.MethodGet, "/api/products"))
	assert.Len(t, view.Rows(), 4)
}
