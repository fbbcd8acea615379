// Package auth signs the admin in and out, exposes the current user's role
// for conditional rendering and runs the two-factor enrolment flow.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/buger/jsonparser"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/transport"
)

const basePath = "/api/authentication"

var (
	// ErrInvalidCode is returned before any request when a verification code
	// is not exactly six digits.
	ErrInvalidCode = errors.New("auth: verification code must be 6 digits")
	ErrNotSignedIn = errors.New("auth: not signed in")
)

// Credentials are what the login form submits.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
		validation.Field(&c.Password, validation.Required),
	)
}

type Option func(*Session)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// OnLogout registers fn to run after every logout, successful or not. The
// container uses it to clear the query cache.
func OnLogout(fn func(ctx context.Context)) Option {
	return func(s *Session) { s.onLogout = append(s.onLogout, fn) }
}

// Session is the signed-in state of one client.
type Session struct {
	client   *transport.Client
	logger   zerolog.Logger
	onLogout []func(ctx context.Context)

	mu   sync.RWMutex
	user *domain.User
}

func NewSession(client *transport.Client, opts ...Option) *Session {
	s := &Session{client: client, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login signs in with email and password. The token, when the server returns
// one, is sent as a bearer token from then on; otherwise the session cookie
// carries the session.
func (s *Session) Login(ctx context.Context, email, password string) (domain.User, error) {
	creds := Credentials{Email: strings.TrimSpace(email), Password: password}
	if err := creds.Validate(); err != nil {
		return domain.User{}, err
	}

	res := transport.Send[[]byte](ctx, s.client, transport.Request{
		Method: http.MethodPost,
		Path:   basePath + "/login",
		Body:   creds,
	})
	body, err := res.Unwrap()
	if err != nil {
		s.logger.Warn().Err(err).Str("email", creds.Email).Msg("login failed")
		return domain.User{}, err
	}

	token, _ := jsonparser.GetString(body, "token")
	user, err := decodeUser(body, "user")
	if err != nil {
		return domain.User{}, err
	}
	if user.Role == "" && token != "" {
		user.Role = RoleFromToken(token)
	}

	if token != "" {
		s.client.SetAuthToken(token)
	}
	s.setUser(&user)
	s.logger.Info().Str("email", user.Email).Str("role", string(user.Role)).Msg("signed in")
	return user, nil
}

// Check asks the server who is signed in and refreshes the current user.
func (s *Session) Check(ctx context.Context) (domain.User, error) {
	res := transport.Send[[]byte](ctx, s.client, transport.Request{Path: basePath + "/check"})
	body, err := res.Unwrap()
	if err != nil {
		if transport.IsUnauthorized(err) {
			s.setUser(nil)
		}
		return domain.User{}, err
	}
	user, err := decodeUser(body)
	if err != nil {
		return domain.User{}, err
	}
	if user.Role == "" {
		user.Role = RoleFromToken(s.client.AuthToken())
	}
	s.setUser(&user)
	return user, nil
}

// Logout ends the session on the server and always forgets it locally, even
// when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	res := transport.Send[transport.Empty](ctx, s.client, transport.Request{
		Method: http.MethodPost,
		Path:   basePath + "/logout",
	})

	s.client.ClearCredentials()
	s.setUser(nil)
	for _, fn := range s.onLogout {
		fn(ctx)
	}

	if res.Err != nil {
		s.logger.Warn().Err(res.Err).Msg("logout request failed; local session cleared")
		return res.Err
	}
	s.logger.Info().Msg("signed out")
	return nil
}

// CurrentUser returns the signed-in user.
func (s *Session) CurrentUser() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

// Role returns the signed-in user's role, empty when signed out.
func (s *Session) Role() domain.Role {
	user, _ := s.CurrentUser()
	return user.Role
}

// Allows reports whether the signed-in user holds one of allowed.
func (s *Session) Allows(allowed ...domain.Role) bool {
	return Allows(s.Role(), allowed...)
}

func (s *Session) setUser(u *domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = u
}

// Allows reports whether role is one of allowed. An empty role is never allowed.
func Allows(role domain.Role, allowed ...domain.Role) bool {
	if role == "" {
		return false
	}
	for _, r := range allowed {
		if r == role {
			return true
		}
	}
	return false
}

type roleClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RoleFromToken reads the role claim of a JWT without verifying it. The
// role only decides what the client shows.
func RoleFromToken(token string) domain.Role {
	if token == "" {
		return ""
	}
	var claims roleClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return ""
	}
	role := domain.Role(claims.Role)
	if !role.Valid() {
		return ""
	}
	return role
}

func decodeUser(body []byte, path ...string) (domain.User, error) {
	raw := body
	if len(path) > 0 {
		v, dataType, _, err := jsonparser.Get(body, path...)
		if err != nil || dataType != jsonparser.Object {
			return domain.User{}, fmt.Errorf("auth: response has no %s object", strings.Join(path, "."))
		}
		raw = v
	}
	var user domain.User
	if err := json.Unmarshal(raw, &user); err != nil {
		return domain.User{}, fmt.Errorf("auth: decode user: %w", err)
	}
	return user, nil
}

// Enrollment is what the server hands out when two-factor auth is enabled.
type Enrollment struct {
	URL    string `json:"url"`
	Secret string `json:"secret"`
}

// EnableMFA starts two-factor enrolment. The server answers with a JSON
// object or with the bare otpauth URI.
func (s *Session) EnableMFA(ctx context.Context) (Enrollment, error) {
	res := transport.Send[[]byte](ctx, s.client, transport.Request{
		Path:   basePath + "/mfa/enable",
		Accept: "application/json, text/plain",
	})
	body, err := res.Unwrap()
	if err != nil {
		return Enrollment{}, err
	}
	return parseEnrollment(body)
}

func parseEnrollment(body []byte) (Enrollment, error) {
	var e Enrollment
	text := strings.TrimSpace(string(body))
	switch {
	case strings.HasPrefix(text, "{"):
		e.URL, _ = jsonparser.GetString(body, "url")
		e.Secret, _ = jsonparser.GetString(body, "secret")
	case strings.HasPrefix(text, `"`):
		e.URL, _ = jsonparser.ParseString([]byte(strings.Trim(text, `"`)))
	default:
		e.URL = text
	}

	if e.URL == "" {
		return Enrollment{}, errors.New("auth: enrolment response has no url")
	}
	u, err := url.Parse(e.URL)
	if err != nil || u.Scheme != "otpauth" {
		return Enrollment{}, fmt.Errorf("auth: %q is not an otpauth url", e.URL)
	}
	if e.Secret == "" {
		e.Secret = u.Query().Get("secret")
	}
	return e, nil
}

var mfaCode = regexp.MustCompile(`^[0-9]{6}$`)

// VerifyMFA confirms enrolment with a code from the authenticator app. Codes
// that are not six digits are rejected without a request.
func (s *Session) VerifyMFA(ctx context.Context, code string) error {
	code = strings.TrimSpace(code)
	if err := validation.Validate(code, validation.Required, validation.Match(mfaCode).Error("must be six digits")); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCode, err)
	}

	res := transport.Send[transport.Empty](ctx, s.client, transport.Request{
		Method: http.MethodPost,
		Path:   basePath + "/mfa/verify",
		Body:   map[string]string{"code": code},
	})
	if res.Err != nil {
		return res.Err
	}

	s.mu.Lock()
	if s.user != nil {
		s.user.MFAEnabled = true
		s.user.MFAVerified = true
	}
	s.mu.Unlock()
	return nil
}
