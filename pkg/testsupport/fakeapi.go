package testsupport

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/connor-davis/threereco-admin/domain"
)

// ValidMFACode is the only code the fake API accepts at /mfa/verify.
const ValidMFACode = "123456"

// SessionCookie is the name of the session cookie set at login.
const SessionCookie = "threereco_session"

// Call is one request received by the fake API.
type Call struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

type failure struct {
	status int
	body   string
}

type account struct {
	hash []byte
	user domain.User
}

// FakeAPI is an in-process threereco REST API backed by memory. It records
// every call so tests can assert exactly which requests were issued.
type FakeAPI struct {
	server *httptest.Server
	secret []byte

	mu       sync.Mutex
	records  map[string][]map[string]any
	calls    []Call
	failures map[string][]failure
	accounts map[string]account
	gates    map[string]chan struct{}
	now      func() time.Time
}

// NewFakeAPI starts a fake API. Call Close when done.
func NewFakeAPI() *FakeAPI {
	gin.SetMode(gin.TestMode)

	api := &FakeAPI{
		secret:   []byte("fake-api-signing-key"),
		records:  make(map[string][]map[string]any),
		failures: make(map[string][]failure),
		accounts: make(map[string]account),
		gates:    make(map[string]chan struct{}),
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), api.record)
	engine.Any("/api/*path", api.dispatch)
	api.server = httptest.NewServer(engine)
	return api
}

// StartFakeAPI starts a fake API that is closed when t ends.
func StartFakeAPI(t testing.TB) *FakeAPI {
	t.Helper()
	api := NewFakeAPI()
	t.Cleanup(api.Close)
	return api
}

// URL is the base URL to hand to transport.New.
func (a *FakeAPI) URL() string {
	return a.server.URL
}

// Close stops the server.
func (a *FakeAPI) Close() {
	a.mu.Lock()
	for key, gate := range a.gates {
		close(gate)
		delete(a.gates, key)
	}
	a.mu.Unlock()
	a.server.Close()
}

// Seed stores records under resource, assigning ids to records without one.
// It returns the ids in order.
func (a *FakeAPI) Seed(resource string, records ...any) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	ids := make([]string, 0, len(records))
	for _, r := range records {
		m := toMap(r)
		id, _ := m["id"].(string)
		if id == "" {
			id = uuid.NewString()
			m["id"] = id
		}
		a.records[resource] = append(a.records[resource], m)
		ids = append(ids, id)
	}
	return ids
}

// Records returns a copy of the stored records of resource.
func (a *FakeAPI) Records(resource string) []map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]map[string]any, len(a.records[resource]))
	for i, r := range a.records[resource] {
		out[i] = toMap(r)
	}
	return out
}

// AddUser registers an account that can log in with email and password.
func (a *FakeAPI) AddUser(email, password string, role domain.Role) domain.User {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		panic(fmt.Sprintf("testsupport: hash password: %v", err))
	}
	user := domain.User{
		ID:    uuid.NewString(),
		Name:  strings.Split(email, "@")[0],
		Email: email,
		Role:  role,
	}

	a.mu.Lock()
	a.accounts[strings.ToLower(email)] = account{hash: hash, user: user}
	a.mu.Unlock()
	return user
}

// FailNext makes the next request to method and path answer with status and
// body instead of being handled.
func (a *FakeAPI) FailNext(method, path string, status int, body string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := method + " " + path
	a.failures[key] = append(a.failures[key], failure{status: status, body: body})
}

// Hold blocks requests to method and path until the returned release func is called.
func (a *FakeAPI) Hold(method, path string) (release func()) {
	gate := make(chan struct{})
	key := method + " " + path

	a.mu.Lock()
	a.gates[key] = gate
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			if a.gates[key] == gate {
				delete(a.gates, key)
				close(gate)
			}
			a.mu.Unlock()
		})
	}
}

// Calls returns every recorded call.
func (a *FakeAPI) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallCount counts recorded calls to method and path. An empty method matches any.
func (a *FakeAPI) CallCount(method, path string) int {
	n := 0
	for _, c := range a.Calls() {
		if (method == "" || c.Method == method) && c.Path == path {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call to method and path.
func (a *FakeAPI) LastCall(method, path string) (Call, bool) {
	calls := a.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == method && calls[i].Path == path {
			return calls[i], true
		}
	}
	return Call{}, false
}

// ResetCalls forgets recorded calls.
func (a *FakeAPI) ResetCalls() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
}

func (a *FakeAPI) record(c *gin.Context) {
	body, _ := c.GetRawData()
	c.Request.Body = http.NoBody
	c.Set("body", body)

	call := Call{
		Method: c.Request.Method,
		Path:   c.Request.URL.Path,
		Query:  c.Request.URL.Query(),
		Body:   body,
	}

	a.mu.Lock()
	a.calls = append(a.calls, call)
	key := call.Method + " " + call.Path
	gate := a.gates[key]
	var fail *failure
	if queued := a.failures[key]; len(queued) > 0 {
		fail = &queued[0]
		a.failures[key] = queued[1:]
	}
	a.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		c.Data(fail.status, contentTypeOf(fail.body), []byte(fail.body))
		c.Abort()
		return
	}
	c.Next()
}

func contentTypeOf(body string) string {
	if strings.HasPrefix(strings.TrimSpace(body), "{") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}

func (a *FakeAPI) dispatch(c *gin.Context) {
	segments := strings.Split(strings.Trim(c.Param("path"), "/"), "/")
	method := c.Request.Method

	if segments[0] == "authentication" {
		a.authentication(c, strings.Join(segments[1:], "/"))
		return
	}

	resource := segments[0]
	switch {
	case len(segments) == 1 && method == http.MethodGet:
		a.list(c, resource)
	case len(segments) == 1 && method == http.MethodPost:
		a.create(c, resource)
	case len(segments) == 2 && segments[1] == "paging" && method == http.MethodGet:
		a.paging(c, resource)
	case len(segments) == 2 && segments[1] == "export" && method == http.MethodGet:
		a.export(c, resource)
	case len(segments) == 2 && method == http.MethodGet:
		a.get(c, resource, segments[1])
	case len(segments) == 2 && method == http.MethodPut:
		a.update(c, resource, segments[1])
	case len(segments) == 2 && method == http.MethodDelete:
		a.remove(c, resource, segments[1])
	default:
		c.String(http.StatusNotFound, "route not found")
	}
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": code, "message": message}
}

func (a *FakeAPI) list(c *gin.Context, resource string) {
	a.mu.Lock()
	all := a.records[resource]
	rows := make([]map[string]any, 0, len(all))
	for _, r := range all {
		rows = append(rows, a.embed(resource, toMap(r), c))
	}
	a.mu.Unlock()

	if c.Query("usePaging") != "false" {
		page := atoiDefault(c.Query("page"), 1)
		pageSize := atoiDefault(c.DefaultQuery("pageSize", c.Query("count")), 10)
		if page < 1 || pageSize < 1 {
			c.JSON(http.StatusBadRequest, errorBody("bad_request", "page and pageSize must be positive"))
			return
		}
		start := (page - 1) * pageSize
		if start > len(rows) {
			start = len(rows)
		}
		end := start + pageSize
		if end > len(rows) {
			end = len(rows)
		}
		rows = rows[start:end]
	}
	c.JSON(http.StatusOK, rows)
}

// embed inlines referenced records when include{Related}=true is requested.
// Callers hold a.mu.
func (a *FakeAPI) embed(resource string, row map[string]any, c *gin.Context) map[string]any {
	if resource != domain.ResourceCollections {
		return row
	}
	refs := []struct{ flag, field, target, as string }{
		{"includeBusiness", "businessId", domain.ResourceBusinesses, "business"},
		{"includeCollector", "collectorId", domain.ResourceCollectors, "collector"},
		{"includeProduct", "productId", domain.ResourceProducts, "product"},
	}
	for _, ref := range refs {
		if c.Query(ref.flag) != "true" {
			continue
		}
		id, _ := row[ref.field].(string)
		if _, found := a.find(ref.target, id); found >= 0 {
			row[ref.as] = toMap(a.records[ref.target][found])
		}
	}
	return row
}

func (a *FakeAPI) paging(c *gin.Context, resource string) {
	pageSize := atoiDefault(c.Query("pageSize"), 10)
	if pageSize < 1 {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "pageSize must be positive"))
		return
	}
	a.mu.Lock()
	n := len(a.records[resource])
	a.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"totalPages": int(math.Ceil(float64(n) / float64(pageSize)))})
}

func (a *FakeAPI) get(c *gin.Context, resource, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	record, idx := a.find(resource, id)
	if idx < 0 {
		c.String(http.StatusNotFound, "%s %s not found", strings.TrimSuffix(resource, "s"), id)
		return
	}
	c.JSON(http.StatusOK, toMap(record))
}

func (a *FakeAPI) create(c *gin.Context, resource string) {
	var body map[string]any
	if err := json.Unmarshal(bodyOf(c), &body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid json body"))
		return
	}
	body["id"] = uuid.NewString()
	body["createdAt"] = a.now().Format(time.RFC3339)

	a.mu.Lock()
	a.records[resource] = append(a.records[resource], body)
	a.mu.Unlock()

	c.JSON(http.StatusCreated, body)
}

func (a *FakeAPI) update(c *gin.Context, resource, id string) {
	var body map[string]any
	if err := json.Unmarshal(bodyOf(c), &body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid json body"))
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	_, idx := a.find(resource, id)
	if idx < 0 {
		c.JSON(http.StatusNotFound, errorBody("not_found", "record no longer exists"))
		return
	}
	body["id"] = id
	body["updatedAt"] = a.now().Format(time.RFC3339)
	a.records[resource][idx] = body
	c.JSON(http.StatusOK, toMap(body))
}

func (a *FakeAPI) remove(c *gin.Context, resource, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, idx := a.find(resource, id)
	if idx < 0 {
		c.JSON(http.StatusNotFound, errorBody("not_found", "record no longer exists"))
		return
	}

	field := map[string]string{
		domain.ResourceBusinesses: "businessId",
		domain.ResourceCollectors: "collectorId",
		domain.ResourceProducts:   "productId",
	}[resource]
	if field != "" {
		for _, col := range a.records[domain.ResourceCollections] {
			if col[field] == id {
				c.JSON(http.StatusConflict, errorBody("conflict",
					fmt.Sprintf("cannot delete %s: it is referenced by collections", strings.TrimSuffix(resource, "s"))))
				return
			}
		}
	}

	a.records[resource] = append(a.records[resource][:idx], a.records[resource][idx+1:]...)
	c.Status(http.StatusNoContent)
}

func (a *FakeAPI) export(c *gin.Context, resource string) {
	start, errStart := time.Parse("2006-01-02", c.Query("startDate"))
	end, errEnd := time.Parse("2006-01-02", c.Query("endDate"))
	if errStart != nil || errEnd != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "startDate and endDate are required (YYYY-MM-DD)"))
		return
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	a.mu.Lock()
	var rows []map[string]any
	for _, r := range a.records[resource] {
		if ts, ok := r["createdAt"].(string); ok {
			created, err := time.Parse(time.RFC3339, ts)
			if err == nil && (created.Before(start) || created.After(end)) {
				continue
			}
		}
		rows = append(rows, toMap(r))
	}
	a.mu.Unlock()

	columns := scalarColumns(rows)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(columns)
	for _, row := range rows {
		line := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				line[i] = fmt.Sprint(v)
			}
		}
		_ = w.Write(line)
	}
	w.Flush()

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", resource))
	c.Data(http.StatusOK, "text/csv", buf.Bytes())
}

func scalarColumns(rows []map[string]any) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k, v := range row {
			switch v.(type) {
			case map[string]any, []any:
				continue
			}
			seen[k] = true
		}
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		if k != "id" {
			columns = append(columns, k)
		}
	}
	sort.Strings(columns)
	return append([]string{"id"}, columns...)
}

// find returns the record with id and its index, or -1. Callers hold a.mu.
func (a *FakeAPI) find(resource, id string) (map[string]any, int) {
	for i, r := range a.records[resource] {
		if r["id"] == id {
			return r, i
		}
	}
	return nil, -1
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (a *FakeAPI) authentication(c *gin.Context, action string) {
	switch {
	case action == "login" && c.Request.Method == http.MethodPost:
		a.login(c)
	case action == "logout" && c.Request.Method == http.MethodPost:
		c.SetCookie(SessionCookie, "", -1, "/", "", false, true)
		c.Status(http.StatusOK)
	case action == "check" && c.Request.Method == http.MethodGet:
		if user, ok := a.authenticated(c); ok {
			c.JSON(http.StatusOK, user)
		}
	case action == "mfa/enable" && c.Request.Method == http.MethodGet:
		if user, ok := a.authenticated(c); ok {
			secret := "JBSWY3DPEHPK3PXP"
			c.JSON(http.StatusOK, gin.H{
				"secret": secret,
				"url": fmt.Sprintf("otpauth://totp/threereco:%s?secret=%s&issuer=threereco",
					url.PathEscape(user.Email), secret),
			})
		}
	case action == "mfa/verify" && c.Request.Method == http.MethodPost:
		if _, ok := a.authenticated(c); !ok {
			return
		}
		var body struct {
			Code string `json:"code"`
		}
		_ = json.Unmarshal(bodyOf(c), &body)
		if body.Code != ValidMFACode {
			c.JSON(http.StatusBadRequest, errorBody("invalid_code", "invalid verification code"))
			return
		}
		c.JSON(http.StatusOK, gin.H{"verified": true})
	default:
		c.String(http.StatusNotFound, "route not found")
	}
}

func (a *FakeAPI) login(c *gin.Context) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(bodyOf(c), &body); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("bad_request", "invalid json body"))
		return
	}

	a.mu.Lock()
	acct, ok := a.accounts[strings.ToLower(body.Email)]
	a.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(acct.hash, []byte(body.Password)) != nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "invalid email or password"))
		return
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Email: acct.user.Email,
		Role:  string(acct.user.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.user.ID,
			IssuedAt:  jwt.NewNumericDate(a.now()),
			ExpiresAt: jwt.NewNumericDate(a.now().Add(time.Hour)),
		},
	}).SignedString(a.secret)
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorBody("internal", "could not sign token"))
		return
	}

	c.SetCookie(SessionCookie, token, 3600, "/", "", false, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": acct.user})
}

// authenticated resolves the caller from the bearer token or the session
// cookie, answering 401 itself when neither is valid.
func (a *FakeAPI) authenticated(c *gin.Context) (domain.User, bool) {
	raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if raw == "" {
		raw, _ = c.Cookie(SessionCookie)
	}

	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "not signed in"))
		return domain.User{}, false
	}

	a.mu.Lock()
	acct, ok := a.accounts[strings.ToLower(parsed.Email)]
	a.mu.Unlock()
	if !ok {
		c.JSON(http.StatusUnauthorized, errorBody("unauthorized", "account no longer exists"))
		return domain.User{}, false
	}
	return acct.user, true
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// toMap turns any JSON-encodable value into a fresh map.
func toMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testsupport: encode record: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("testsupport: record %T is not a JSON object: %v", v, err))
	}
	return m
}

func bodyOf(c *gin.Context) []byte {
	v, _ := c.Get("body")
	body, _ := v.([]byte)
	return body
}
