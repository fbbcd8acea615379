package di

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/auth"
	"github.com/connor-davis/threereco-admin/cache"
	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/export"
	"github.com/connor-davis/threereco-admin/form"
	"github.com/connor-davis/threereco-admin/internal/config"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pagination"
	"github.com/connor-davis/threereco-admin/query"
	"github.com/connor-davis/threereco-admin/resource"
	"github.com/connor-davis/threereco-admin/transport"
)

// Container wires the admin client: one transport client, one payload store
// and query cache shared by every resource controller, the session and the
// exporter.
type Container struct {
	config   config.Config
	logger   zerolog.Logger
	client   *transport.Client
	store    cache.CacheService
	queries  *query.Cache
	notifier notify.Notifier
	session  *auth.Session
	exporter *export.Exporter

	Businesses  *resource.Controller[domain.Business]
	Collectors  *resource.Controller[domain.Collector]
	Products    *resource.Controller[domain.Product]
	Collections *resource.Controller[domain.Collection]
	Users       *resource.Controller[domain.User]
	Staff       *resource.Controller[domain.Staff]
}

type Option func(*options)

type options struct {
	logger     zerolog.Logger
	notifier   notify.Notifier
	httpClient *http.Client
}

func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithNotifier sets where notifications go. The default logs them.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// NewContainer validates cfg and builds every component from it.
func NewContainer(cfg config.Config, opts ...Option) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.notifier == nil {
		o.notifier = notify.LogNotifier{Logger: o.logger}
	}

	clientOpts := []transport.Option{
		transport.WithTimeout(cfg.API.Timeout),
		transport.WithLogger(o.logger),
		transport.WithAuthToken(cfg.API.Token),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, transport.WithHTTPClient(o.httpClient))
	}
	client, err := transport.New(cfg.API.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	store, err := cache.NewCacheService(cfg.Cache)
	if err != nil {
		return nil, err
	}
	queries := query.New(store, query.WithLogger(o.logger))

	c := &Container{
		config:   cfg,
		logger:   o.logger,
		client:   client,
		store:    store,
		queries:  queries,
		notifier: o.notifier,
		exporter: export.New(client, export.WithLogger(o.logger)),
	}
	c.session = auth.NewSession(client,
		auth.WithLogger(o.logger),
		auth.OnLogout(func(ctx context.Context) { queries.Clear(ctx) }),
	)

	// collections embed businesses, collectors and products, and staff are users
	c.Businesses = newController[domain.Business](c, domain.ResourceBusinesses, domain.ResourceCollections)
	c.Collectors = newController[domain.Collector](c, domain.ResourceCollectors, domain.ResourceCollections)
	c.Products = newController[domain.Product](c, domain.ResourceProducts, domain.ResourceCollections)
	c.Collections = newController[domain.Collection](c, domain.ResourceCollections)
	c.Users = newController[domain.User](c, domain.ResourceUsers, domain.ResourceStaff)
	c.Staff = newController[domain.Staff](c, domain.ResourceStaff, domain.ResourceUsers)

	return c, nil
}

// NewContainerWithDefaults builds a container from config.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(config.DefaultConfig(), opts...)
}

func newController[T any](c *Container, name string, related ...string) *resource.Controller[T] {
	return resource.New[T](name, resource.NewRESTSource[T](c.client, name), c.queries,
		resource.WithRelated(related...),
		resource.WithLogger(c.logger),
	)
}

func (c *Container) Config() config.Config { return c.config }
func (c *Container) Logger() zerolog.Logger { return c.logger }
func (c *Container) Client() *transport.Client { return c.client }
func (c *Container) CacheService() cache.CacheService { return c.store }
func (c *Container) Queries() *query.Cache { return c.queries }
func (c *Container) Notifier() notify.Notifier { return c.notifier }
func (c *Container) Session() *auth.Session { return c.session }
func (c *Container) Exporter() *export.Exporter { return c.exporter }

// Logout signs out and drops every cached query.
func (c *Container) Logout(ctx context.Context) error {
	return c.session.Logout(ctx)
}

// Resources lists the resource names the container serves, in menu order.
func (c *Container) Resources() []string {
	return []string{
		domain.ResourceCollections,
		domain.ResourceBusinesses,
		domain.ResourceCollectors,
		domain.ResourceProducts,
		domain.ResourceUsers,
		domain.ResourceStaff,
	}
}

// NewListView mounts a list of ctrl with the configured page sizes and the
// container's notifier. Methods cannot take type parameters, so this is a
// package-level function: NewListView(container, container.Products).
func NewListView[T domain.Entity](c *Container, ctrl *resource.Controller[T], opts ...pagination.Option) (*pagination.View[T], error) {
	base := []pagination.Option{
		pagination.WithPageSizes(c.config.List.PageSizes...),
		pagination.WithPageSize(c.config.List.PageSize),
		pagination.WithNotifier(c.notifier),
		pagination.WithLogger(c.logger),
		pagination.WithTitle(Title(ctrl.Name())),
	}
	if ctrl.Name() == domain.ResourceCollections {
		base = append(base, pagination.WithFilters(resource.Params{
			"includeBusiness":  true,
			"includeCollector": true,
			"includeProduct":   true,
		}))
	}
	return pagination.New(ctrl, append(base, opts...)...)
}

// NewCreateForm mounts a create form for ctrl.
func NewCreateForm[T domain.Entity](c *Container, ctrl *resource.Controller[T], defaults T, nav form.Navigator) (*form.Controller[T], error) {
	return form.NewCreate(ctrl, defaults, c.formOptions(ctrl.Name(), nav)...)
}

// NewEditForm mounts an edit form for record id of ctrl.
func NewEditForm[T domain.Entity](c *Container, ctrl *resource.Controller[T], id string, nav form.Navigator) *form.Controller[T] {
	return form.NewEdit(ctrl, id, c.formOptions(ctrl.Name(), nav)...)
}

func (c *Container) formOptions(name string, nav form.Navigator) []form.Option {
	return []form.Option{
		form.WithNotifier(c.notifier),
		form.WithNavigator(nav),
		form.WithTitle(Title(name)),
		form.WithLogger(c.logger),
	}
}

// Title is the singular display name of a resource.
func Title(name string) string {
	switch name {
	case domain.ResourceBusinesses:
		return "Business"
	case domain.ResourceCollectors:
		return "Collector"
	case domain.ResourceProducts:
		return "Product"
	case domain.ResourceCollections:
		return "Collection"
	case domain.ResourceUsers:
		return "User"
	case domain.ResourceStaff:
		return "Staff member"
	}
	return name
}
