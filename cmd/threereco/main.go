package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"

	"github.com/connor-davis/threereco-admin/auth"
	"github.com/connor-davis/threereco-admin/domain"
	"github.com/connor-davis/threereco-admin/export"
	"github.com/connor-davis/threereco-admin/form"
	"github.com/connor-davis/threereco-admin/internal/config"
	"github.com/connor-davis/threereco-admin/internal/logging"
	"github.com/connor-davis/threereco-admin/notify"
	"github.com/connor-davis/threereco-admin/pkg/di"
	"github.com/connor-davis/threereco-admin/transport"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Globals are flags shared by every command.
type Globals struct {
	Version  kong.VersionFlag `help:"Show version." short:"V"`
	Config   string           `help:"Config file." type:"path" placeholder:"PATH"`
	APIURL   string           `name:"api-url" help:"API base URL, overrides the config file."`
	LogLevel string           `help:"Log level (trace, debug, info, warn, error)."`
}

// CLI is the top-level command structure for threereco.
type CLI struct {
	Globals

	Login  LoginCmd  `cmd:"" help:"Sign in and remember the session."`
	Logout LogoutCmd `cmd:"" help:"Sign out and forget the session."`
	Whoami WhoamiCmd `cmd:"" help:"Show the signed-in user."`
	List   ListCmd   `cmd:"" help:"List one page of a resource."`
	Show   ShowCmd   `cmd:"" help:"Show one record as JSON."`
	Create CreateCmd `cmd:"" help:"Create a record from field values."`
	Edit   EditCmd   `cmd:"" help:"Change fields of one record."`
	Delete DeleteCmd `cmd:"" help:"Delete one record."`
	Export ExportCmd `cmd:"" help:"Download a CSV export, optionally as PDF too."`
	MFA    MFACmd    `cmd:"" name:"mfa" help:"Two-factor authentication."`
	Browse BrowseCmd `cmd:"" help:"Browse a resource interactively."`
}

// streams are the terminal streams commands read and write.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// app is what a command runs against.
type app struct {
	*di.Container
	credPath string
	streams  *streams
}

// open loads the config, restores a remembered session and builds the container.
func (g *Globals) open(s *streams, opts ...di.Option) (*app, error) {
	path := g.Config
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if g.APIURL != "" {
		cfg.API.BaseURL = g.APIURL
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	credPath := credentialsPath(path)
	if cfg.API.Token == "" {
		creds, err := loadCredentials(credPath)
		if err != nil {
			return nil, err
		}
		cfg.API.Token = creds.Token
	}

	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: s.err})
	if err != nil {
		return nil, err
	}
	container, err := di.NewContainer(*cfg, append([]di.Option{di.WithLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	return &app{Container: container, credPath: credPath, streams: s}, nil
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprint(a.streams.out, label)
	line, err := bufio.NewReader(a.streams.in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

type LoginCmd struct {
	Email    string `arg:"" help:"Account email."`
	Password string `help:"Password; prompted for when empty." env:"THREERECO_PASSWORD"`
}

func (c *LoginCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	password := c.Password
	if password == "" {
		if password, err = a.prompt("Password: "); err != nil {
			return err
		}
	}

	user, err := a.Session().Login(ctx, c.Email, password)
	if err != nil {
		return &loginError{err: err}
	}
	if err := saveCredentials(a.credPath, credentials{
		Token:    sessionToken(a.Client()),
		Email:    user.Email,
		SignedIn: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	fmt.Fprintf(s.out, "Signed in as %s (%s)\n", user.Email, user.Role)
	return nil
}

type LogoutCmd struct{}

func (c *LogoutCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	serverErr := a.Logout(ctx)
	if err := removeCredentials(a.credPath); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Signed out.")
	return serverErr
}

type WhoamiCmd struct {
	JSON bool `help:"Print the user as JSON."`
}

func (c *WhoamiCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	user, err := a.Session().Check(ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return writeJSON(s.out, user)
	}
	manage := "no"
	if a.Session().Allows(domain.RoleSystemAdmin, domain.RoleAdmin, domain.RoleStaff) {
		manage = "yes"
	}
	fmt.Fprintf(s.out, "%s <%s>\nrole: %s\nmfa: %t\ncan manage records: %s\n", user.Name, user.Email, user.Role, user.MFAEnabled, manage)
	return nil
}

type ListCmd struct {
	Resource string `arg:"" help:"businesses, collectors, products, collections, users or staff."`
	Page     int    `help:"Page number." default:"1"`
	PageSize int    `help:"Rows per page; one of the configured page sizes."`
	Filter   string `help:"Fuzzy filter applied to the fetched page." short:"f"`
	JSON     bool   `help:"Print the rows as JSON."`
}

func (c *ListCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	return ops.list(ctx, s.out, listOptions{Page: c.Page, PageSize: c.PageSize, Filter: c.Filter, JSON: c.JSON})
}

type ShowCmd struct {
	Resource string `arg:""`
	ID       string `arg:""`
}

func (c *ShowCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	return ops.show(ctx, s.out, c.ID)
}

// ValueFlags carry the field values of create and edit.
type ValueFlags struct {
	Set  map[string]string `help:"Field value as NAME=VALUE; repeatable." short:"s" mapsep:"none" placeholder:"NAME=VALUE"`
	File string            `help:"JSON object of field values, applied before --set." type:"existingfile" placeholder:"PATH"`
}

func (v ValueFlags) values() (fieldValues, error) {
	out := fieldValues{set: v.Set}
	if v.File == "" {
		return out, nil
	}
	data, err := os.ReadFile(v.File)
	if err != nil {
		return out, err
	}
	out.file = data
	return out, nil
}

type CreateCmd struct {
	Resource string `arg:""`
	ValueFlags
}

func (c *CreateCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	values, err := c.values()
	if err != nil {
		return err
	}
	rec := &notify.Recorder{}
	a, err := g.open(s, di.WithNotifier(rec))
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	err = ops.create(ctx, s.out, values)
	printNotice(s.out, rec)
	return err
}

type EditCmd struct {
	Resource string `arg:""`
	ID       string `arg:""`
	ValueFlags
}

func (c *EditCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	values, err := c.values()
	if err != nil {
		return err
	}
	rec := &notify.Recorder{}
	a, err := g.open(s, di.WithNotifier(rec))
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	err = ops.edit(ctx, s.out, c.ID, values)
	printNotice(s.out, rec)
	return err
}

func printNotice(w io.Writer, rec *notify.Recorder) {
	if n, ok := rec.Last(); ok {
		fmt.Fprintf(w, "%s: %s\n", n.Title, n.Message)
	}
}

type DeleteCmd struct {
	Resource string `arg:""`
	ID       string `arg:""`
	Yes      bool   `help:"Do not ask for confirmation." short:"y"`
}

func (c *DeleteCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	rec := &notify.Recorder{}
	a, err := g.open(s, di.WithNotifier(rec))
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	if !c.Yes {
		answer, err := a.prompt(fmt.Sprintf("Delete %s %s? This cannot be undone. [y/N] ", di.Title(c.Resource), c.ID))
		if err != nil {
			return err
		}
		if !strings.EqualFold(answer, "y") && !strings.EqualFold(answer, "yes") {
			fmt.Fprintln(s.out, "Cancelled.")
			return nil
		}
	}

	err = ops.remove(ctx, c.ID)
	printNotice(s.out, rec)
	return err
}

type ExportCmd struct {
	Resource string `arg:"" help:"Resource to export, usually collections."`
	From     string `help:"First day (YYYY-MM-DD)."`
	To       string `help:"Last day (YYYY-MM-DD)."`
	Days     int    `help:"Export the last N days when --from/--to are not given." default:"30"`
	Dir      string `help:"Directory to write to." type:"path" default:"."`
	PDF      bool   `name:"pdf" help:"Also render the export as a PDF table."`
}

func (c *ExportCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	r := export.LastDays(time.Now(), c.Days)
	if c.From != "" || c.To != "" {
		var err error
		if r, err = export.ParseRange(c.From, c.To); err != nil {
			return err
		}
	}

	a, err := g.open(s)
	if err != nil {
		return err
	}
	path, err := a.Exporter().Download(ctx, c.Resource, r, c.Dir)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, path)
	if !c.PDF {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	t, err := export.ParseCSV(data)
	if err != nil {
		return err
	}
	pdfPath := filepath.Join(c.Dir, export.FileName(c.Resource, r, ".pdf"))
	f, err := os.Create(pdfPath)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s %s to %s", di.Title(c.Resource), r.Start.Format(export.DateLayout), r.End.Format(export.DateLayout))
	if err := export.RenderPDF(f, title, t); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, pdfPath)
	return nil
}

type MFACmd struct {
	Enable MFAEnableCmd `cmd:"" help:"Start enrolment and show the QR code."`
	Verify MFAVerifyCmd `cmd:"" help:"Confirm enrolment with a code from the authenticator app."`
}

type MFAEnableCmd struct {
	PNG string `name:"png" help:"Also write the QR code as a PNG to this path." type:"path"`
}

func (c *MFAEnableCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	enrollment, err := a.Session().EnableMFA(ctx)
	if err != nil {
		return err
	}
	art, err := enrollment.TerminalQRCode()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s\nSecret: %s\n", art, enrollment.Secret)
	if c.PNG != "" {
		png, err := enrollment.QRCode(256)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.PNG, png, 0o600); err != nil {
			return err
		}
		fmt.Fprintln(s.out, c.PNG)
	}
	fmt.Fprintln(s.out, "Scan the code, then run: threereco mfa verify <code>")
	return nil
}

type MFAVerifyCmd struct {
	Code string `arg:"" help:"Six-digit code."`
}

func (c *MFAVerifyCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	a, err := g.open(s)
	if err != nil {
		return err
	}
	if err := a.Session().VerifyMFA(ctx, c.Code); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Two-factor authentication enabled.")
	return nil
}

type BrowseCmd struct {
	Resource string `arg:"" default:"collections"`
}

func (c *BrowseCmd) Run(ctx context.Context, g *Globals, s *streams) error {
	out, ok := s.out.(*os.File)
	if !ok || !isatty.IsTerminal(out.Fd()) {
		return errors.New("browse needs a terminal; use list instead")
	}

	// logs would tear the screen, so they go nowhere while browsing
	quiet := *g
	quiet.LogLevel = "error"
	rec := &notify.Recorder{}
	a, err := quiet.open(&streams{in: s.in, out: s.out, err: io.Discard}, di.WithNotifier(rec))
	if err != nil {
		return err
	}
	ops, err := lookup(a.Container, c.Resource)
	if err != nil {
		return err
	}
	model, err := ops.browse(ctx, rec)
	if err != nil {
		return err
	}
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	return err
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, form.ErrInvalid), errors.Is(err, auth.ErrInvalidCode), errors.Is(err, export.ErrInvalidRange):
		return 2
	case transport.IsUnauthorized(err):
		return 3
	}
	return 1
}

// loginError marks a failure of the login command itself, where pointing the
// user at login again is no help.
type loginError struct{ err error }

func (e *loginError) Error() string { return e.err.Error() }
func (e *loginError) Unwrap() error { return e.err }

// describe turns an error into the line printed on exit.
func describe(err error) string {
	var apiErr *transport.APIError
	if !errors.As(err, &apiErr) {
		return err.Error()
	}
	var login *loginError
	if apiErr.StatusCode == http.StatusUnauthorized && !errors.As(err, &login) {
		return notify.Message(err) + " (run threereco login)"
	}
	return notify.Message(err)
}

func newParser(cli *CLI, s *streams, opts ...kong.Option) (*kong.Kong, error) {
	return kong.New(cli, append([]kong.Option{
		kong.Name("threereco"),
		kong.Description("Back-office client for the threereco recycling API."),
		kong.UsageOnError(),
		kong.Vars{"version": version + " " + commit + " " + date},
		kong.Bind(s),
		kong.Writers(s.out, s.err),
	}, opts...)...)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := &streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}
	var cli CLI
	parser, err := newParser(&cli, s, kong.BindTo(ctx, (*context.Context)(nil)))
	if err != nil {
		panic(err)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", describe(err))
		os.Exit(exitCode(err))
	}
}
