package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"pgmanage.org/internal/backend"
	"pgmanage.org/internal/config"
	"pgmanage.org/internal/dashboard"
	"pgmanage.org/internal/obs"
	"pgmanage.org/internal/provision"
	"pgmanage.org/internal/session"
	"pgmanage.org/internal/store"
)

// The CLI keeps a single local session.
const sessionID = "cli"

const usage = `usage: pgctl [-config file] [-v] <command> [flags]

commands:
  register   create a tenant account and sign in
  login      sign in to an existing account
  link       assign a room to the signed-in tenant account
  logout     end the local and backend session
  whoami     show the signed-in account
  rooms      list rooms (-available for free rooms only)
  dashboard  show the dashboard summary for the signed-in account
  receipt    show the rent receipt of a payment id
`

type app struct {
	cfg      config.Config
	sessions *session.Manager
	logger   *zap.Logger
	out      io.Writer
	verbose  bool
}

func main() {
	fs := flag.NewFlagSet("pgctl", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	configPath := fs.String("config", "", "path to a TOML config file")
	verbose := fs.Bool("v", false, "print provisioning progress and debug logs")
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *verbose, fs.Args()); err != nil {
		report(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, verbose bool, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.SessionStore = config.StoreFile

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := obs.NewLogger(level, "console", "pgctl")
	if err != nil {
		return err
	}
	restore := obs.SetLogger(logger)
	defer restore()

	sessions, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer sessions.Close()

	a := &app{cfg: cfg, sessions: sessions.Manager, logger: logger, out: os.Stdout, verbose: verbose}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "register":
		return a.register(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "link":
		return a.link(ctx, rest)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami(ctx)
	case "rooms":
		return a.rooms(ctx, rest)
	case "dashboard":
		return a.dashboard(ctx)
	case "receipt":
		return a.receipt(ctx, rest)
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func (a *app) client(cookies []*http.Cookie) (*backend.Client, error) {
	return backend.New(a.cfg.BackendURL,
		backend.WithTimeout(a.cfg.StepTimeout),
		backend.WithRateLimit(a.cfg.BackendRPS, a.cfg.BackendBurst),
		backend.WithUserAgent(a.cfg.UserAgent),
		backend.WithLogger(a.logger.Named("backend")),
		backend.WithCookies(cookies),
	)
}

func (a *app) provisioner(c *backend.Client) *provision.Provisioner {
	opts := []provision.Option{
		provision.WithSink(session.Binding{Manager: a.sessions, ID: sessionID}),
		provision.WithLogger(a.logger),
	}
	if a.verbose {
		opts = append(opts, provision.WithEvents(func(e provision.Event) {
			fmt.Fprintf(os.Stderr, "  %-16s %s\n", e.Step, e.Status)
		}))
	}
	return provision.New(c, opts...)
}

func (a *app) current(ctx context.Context) (session.Session, error) {
	s, err := a.sessions.Load(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return session.Session{}, errors.New("not signed in; run `pgctl login` first")
	}
	return s, err
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	var req provision.Request
	fs.StringVar(&req.Name, "name", "", "full name")
	fs.StringVar(&req.Email, "email", "", "email address")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	fs.Int64Var(&req.RoomID, "room", 0, "room id (see `pgctl rooms -available`)")
	fs.StringVar(&req.Password, "password", "", "password")
	fs.StringVar(&req.PasswordConfirm, "confirm", "", "password confirmation (defaults to -password)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.PasswordConfirm == "" {
		req.PasswordConfirm = req.Password
	}

	c, err := a.client(nil)
	if err != nil {
		return err
	}
	s, err := a.provisioner(c).Provision(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Registered %s (user %d", s.Email, s.UserID)
	if s.TenantID > 0 {
		fmt.Fprintf(a.out, ", tenant %d", s.TenantID)
	}
	fmt.Fprintln(a.out, "). You are signed in.")
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c, err := a.client(nil)
	if err != nil {
		return err
	}
	s, err := a.provisioner(c).Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed in as %s (%s).\n", s.Email, s.Role)
	return nil
}

func (a *app) link(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	var req provision.LinkRequest
	fs.StringVar(&req.Name, "name", "", "full name")
	fs.StringVar(&req.Phone, "phone", "", "phone number")
	fs.Int64Var(&req.RoomID, "room", 0, "room id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.current(ctx)
	if err != nil {
		return err
	}
	if s.TenantID > 0 {
		return fmt.Errorf("account is already linked (tenant %d)", s.TenantID)
	}
	c, err := a.client(s.Cookies)
	if err != nil {
		return err
	}
	s, err = a.provisioner(c).LinkTenant(ctx, s, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Room %d assigned (tenant %d).\n", req.RoomID, s.TenantID)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	s, err := a.sessions.Load(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		fmt.Fprintln(a.out, "Not signed in.")
		return nil
	}
	if err != nil {
		return err
	}
	c, err := a.client(s.Cookies)
	if err != nil {
		return err
	}
	if err := provision.Logout(ctx, c, session.Binding{Manager: a.sessions, ID: sessionID}); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Signed out.")
	return nil
}

func (a *app) whoami(ctx context.Context) error {
	s, err := a.current(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "email\t%s\n", s.Email)
	fmt.Fprintf(tw, "role\t%s\n", s.Role)
	fmt.Fprintf(tw, "user id\t%d\n", s.UserID)
	if s.TenantID > 0 {
		fmt.Fprintf(tw, "tenant id\t%d\n", s.TenantID)
	}
	fmt.Fprintf(tw, "since\t%s\n", s.IssuedAt.Local().Format("2006-01-02 15:04"))
	return tw.Flush()
}

func (a *app) rooms(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("rooms", flag.ContinueOnError)
	available := fs.Bool("available", false, "only rooms that can be selected at registration")
	if err := fs.Parse(args); err != nil {
		return err
	}
	var cookies []*http.Cookie
	if s, err := a.sessions.Load(ctx, sessionID); err == nil {
		cookies = s.Cookies
	}
	c, err := a.client(cookies)
	if err != nil {
		return err
	}
	rooms, err := c.ListRooms(ctx)
	if err != nil {
		return err
	}
	if *available {
		rooms = dashboard.AvailableRooms(rooms)
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tROOM\tSTATUS")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", r.ID, dashboard.RoomLabel(r), r.Status)
	}
	return tw.Flush()
}

func (a *app) dashboard(ctx context.Context) error {
	s, err := a.current(ctx)
	if err != nil {
		return err
	}
	loader := dashboard.NewLoader(func(s session.Session) (dashboard.Source, error) {
		return a.client(s.Cookies)
	})
	snap, err := loader.Load(ctx, s)
	if err != nil {
		return err
	}
	sum := dashboard.Summarize(snap)

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "rooms\t%d (%d available, %d occupied)\n", sum.RoomsTotal, sum.RoomsAvailable, sum.RoomsOccupied)
	if s.IsAdmin() {
		fmt.Fprintf(tw, "tenants\t%d\n", sum.Tenants)
	}
	fmt.Fprintf(tw, "payments\t%d paid, %d pending\n", sum.PaymentsPaid, sum.PaymentsPending)
	if sum.PendingRent > 0 {
		fmt.Fprintf(tw, "pending rent\t₹%d\n", sum.PendingRent)
	}
	statuses := make([]string, 0, len(sum.ComplaintsByStatus))
	for st := range sum.ComplaintsByStatus {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		fmt.Fprintf(tw, "complaints %s\t%d\n", st, sum.ComplaintsByStatus[st])
	}
	return tw.Flush()
}

func (a *app) receipt(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: pgctl receipt <payment-id>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid payment id %q", args[0])
	}
	s, err := a.current(ctx)
	if err != nil {
		return err
	}
	c, err := a.client(s.Cookies)
	if err != nil {
		return err
	}
	r, err := c.Receipt(ctx, id)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "receipt\t%s (%s)\n", r.ReceiptNumber, r.ReceiptDate)
	fmt.Fprintf(tw, "issued by\t%s\n", r.Organization)
	fmt.Fprintf(tw, "tenant\t%s <%s> %s\n", r.TenantName, r.TenantEmail, r.TenantPhone)
	fmt.Fprintf(tw, "room\t%s (%s)\n", r.RoomNo, r.RoomType)
	fmt.Fprintf(tw, "month\t%s\n", r.PaymentMonth)
	fmt.Fprintf(tw, "amount\t₹%d\n", r.RentAmount)
	fmt.Fprintf(tw, "status\t%s\n", r.PaymentStatus)
	return tw.Flush()
}

// report prints err with the one instruction matching its kind.
func report(w io.Writer, err error) {
	var pe *provision.Error
	if !errors.As(err, &pe) {
		if msg := backend.MessageOf(err); msg != "" {
			fmt.Fprintf(w, "error: %s\n", msg)
			return
		}
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	msg := pe.Message
	if msg == "" {
		msg = string(pe.Kind)
	}
	if pe.Field != "" {
		fmt.Fprintf(w, "error: %s (%s)\n", msg, pe.Field)
	} else {
		fmt.Fprintf(w, "error: %s\n", msg)
	}
	fmt.Fprintln(w, provision.Advice(pe.Kind))
}
