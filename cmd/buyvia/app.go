package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/alerts"
	"github.com/and161185/buyvia/internal/alertsession"
	"github.com/and161185/buyvia/internal/api"
	"github.com/and161185/buyvia/internal/auth"
	"github.com/and161185/buyvia/internal/config"
	"github.com/and161185/buyvia/internal/errs"
	"github.com/and161185/buyvia/internal/model"
	"github.com/and161185/buyvia/internal/refresh"
)

var errUnknownCommand = errors.New("unknown command")

// app holds the wired client for one CLI invocation.
type app struct {
	cfg    *config.Config
	log    *zap.Logger
	out    io.Writer
	client *api.Client
	signal *refresh.Signal
	alerts *alerts.Manager
}

func newApp(cfg *config.Config, log *zap.Logger, out io.Writer) (*app, error) {
	dir := cfg.ConfigDir
	if dir == "" {
		dir = auth.DefaultDir()
	}
	client, err := api.Connect(cfg.APIURL, api.Options{
		Store:      auth.NewFileStore(dir),
		Logger:     log,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, err
	}
	sig := refresh.New()
	sig.Subscribe(func(v int64) { log.Debug("alerts changed", zap.Int64("version", v)) })
	return &app{
		cfg:    cfg,
		log:    log,
		out:    out,
		client: client,
		signal: sig,
		alerts: alerts.NewManager(client, sig, log.Named("alerts")),
	}, nil
}

func (a *app) close() { a.client.Queue().Close() }

func (a *app) printJSON(v any) {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// priceFlag is a decimal.NullDecimal flag value; unset leaves it invalid.
type priceFlag struct{ v *decimal.NullDecimal }

func (p priceFlag) String() string {
	if p.v == nil || !p.v.Valid {
		return ""
	}
	return p.v.Decimal.String()
}

func (p priceFlag) Set(s string) error {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("bad price %q", s)
	}
	*p.v = decimal.NewNullDecimal(d)
	return nil
}

func (a *app) filterFlags(fs *flag.FlagSet, q *model.SearchQuery) {
	fs.IntVar(&q.Page, "page", model.DefaultPage, "page number")
	fs.IntVar(&q.PageSize, "size", 0, "page size")
	fs.Var(priceFlag{&q.MinPrice}, "min", "minimum price")
	fs.Var(priceFlag{&q.MaxPrice}, "max", "maximum price")
	fs.StringVar(&q.StoreFilter, "store", "", "store name")
	fs.BoolVar(&q.InStockOnly, "in-stock", false, "only available products")
}

func requireFlag(ok bool, msg string) error {
	if !ok {
		return errs.Invalid("", msg)
	}
	return nil
}

// run dispatches one subcommand.
func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "version":
		fmt.Fprintf(a.out, "buyvia %s (%s)\n", version, buildDate)
		return nil
	case "register":
		return a.register(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		a.client.Logout()
		fmt.Fprintln(a.out, "ok")
		return nil
	case "whoami":
		return a.whoami(ctx)
	case "search":
		return a.search(ctx, args)
	case "product":
		return a.product(ctx, args)
	case "category":
		return a.category(ctx, args)
	case "related":
		return a.related(ctx, args)
	case "recommend":
		ps, err := a.client.Recommendations(ctx)
		if err != nil {
			return err
		}
		a.printJSON(ps)
		return nil
	case "alerts":
		return a.listAlerts(ctx, args)
	case "alert-set":
		return a.alertSet(ctx, args)
	case "alert-rm":
		return a.alertRemove(ctx, args)
	case "alert-edit":
		return a.alertEdit(ctx, args)
	case "triggered":
		list, err := a.alerts.Triggered(ctx)
		if err != nil {
			return err
		}
		for _, v := range list {
			fmt.Fprintln(a.out, alerts.Describe(v))
		}
		return nil
	default:
		return fmt.Errorf("%w %q", errUnknownCommand, cmd)
	}
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := a.flags("register")
	u := fs.String("u", "", "username")
	e := fs.String("e", "", "email")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := a.client.Register(ctx, *u, *e, *p); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "registered; now run: buyvia login")
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := a.flags("login")
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(*u != "" && *p != "", "need -u and -p"); err != nil {
		return err
	}
	tok, err := a.client.Login(ctx, *u, *p)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "ok (expires %s)\n", tok.ExpiresAt.Local().Format("2006-01-02 15:04"))
	return nil
}

// whoami asks the backend; the token's own claims are shown when the backend is unreachable.
func (a *app) whoami(ctx context.Context) error {
	me, err := a.client.Me(ctx)
	if err == nil {
		a.printJSON(me)
		return nil
	}
	if errors.Is(err, errs.ErrUnauthorized) {
		return err
	}
	claims, cerr := a.client.Session().Claims()
	if cerr != nil {
		return err
	}
	a.log.Warn("whoami from token claims", zap.Error(err))
	a.printJSON(model.User{ID: claims.UserID, Username: claims.Subject})
	return nil
}

func (a *app) search(ctx context.Context, args []string) error {
	fs := a.flags("search")
	var q model.SearchQuery
	fs.StringVar(&q.Query, "q", "", "search text")
	a.filterFlags(fs, &q)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if q.Query == "" && fs.NArg() > 0 {
		q.Query = strings.Join(fs.Args(), " ")
	}
	page, err := a.client.Search(ctx, q)
	if err != nil {
		return err
	}
	a.printJSON(page)
	return nil
}

func (a *app) product(ctx context.Context, args []string) error {
	fs := a.flags("product")
	id := fs.Int64("id", 0, "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(*id > 0, "need -id"); err != nil {
		return err
	}
	p, err := a.client.Product(ctx, *id)
	if err != nil {
		return err
	}
	a.printJSON(p)
	return nil
}

func (a *app) category(ctx context.Context, args []string) error {
	fs := a.flags("category")
	var q model.SearchQuery
	fs.Int64Var(&q.CategoryID, "id", 0, "category id")
	fs.StringVar(&q.SortBy, "sort", model.SortRelevance, "sort order")
	a.filterFlags(fs, &q)
	if err := fs.Parse(args); err != nil {
		return err
	}
	page, err := a.client.CategoryProducts(ctx, q)
	if err != nil {
		return err
	}
	a.printJSON(page)
	return nil
}

func (a *app) related(ctx context.Context, args []string) error {
	fs := a.flags("related")
	cat := fs.Int64("category", 0, "category id")
	exclude := fs.Int64("exclude", 0, "product id to leave out")
	limit := fs.Int("limit", 0, "max results")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ps, err := a.client.RelatedProducts(ctx, *cat, *limit, *exclude)
	if err != nil {
		return err
	}
	a.printJSON(ps)
	return nil
}

func (a *app) listAlerts(ctx context.Context, args []string) error {
	fs := a.flags("alerts")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	list, err := a.alerts.List(ctx)
	if err != nil {
		return err
	}
	if *asJSON {
		a.printJSON(list)
		return nil
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "no alerts")
		return nil
	}
	for _, v := range list {
		fmt.Fprintln(a.out, alerts.Describe(v))
	}
	return nil
}

// session opens an alert session for productID at its current price.
func (a *app) session(ctx context.Context, productID int64) (*alertsession.Session, error) {
	if err := requireFlag(productID > 0, "need -product"); err != nil {
		return nil, err
	}
	p, err := a.client.Product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Price.Valid {
		return nil, errs.Invalid("", "product has no current price")
	}
	s := alertsession.New(productID, p.Price.Decimal, a.client, a.client.Session(), a.signal,
		alertsession.WithLogger(a.log.Named("alertsession")),
		alertsession.WithSettleDelay(a.cfg.SettleDelay))
	if err := s.Open(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (a *app) alertSet(ctx context.Context, args []string) error {
	fs := a.flags("alert-set")
	id := fs.Int64("product", 0, "product id")
	var th decimal.NullDecimal
	fs.Var(priceFlag{&th}, "threshold", "target price")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(th.Valid, "need -threshold"); err != nil {
		return err
	}
	s, err := a.session(ctx, *id)
	if err != nil {
		return err
	}
	defer s.Close()

	if snap := s.Snapshot(); snap.State == alertsession.PromptRemove {
		return fmt.Errorf("%w: alert #%d already watches this product (threshold %s); run alert-rm or alert-edit",
			errs.ErrAlreadyExists, snap.Existing.AlertID, snap.Existing.ThresholdPrice.StringFixed(2))
	}
	if err := s.Submit(ctx, th.Decimal); err != nil {
		return err
	}
	fmt.Fprintln(a.out, alertsession.MsgCreated)
	return nil
}

func (a *app) alertRemove(ctx context.Context, args []string) error {
	fs := a.flags("alert-rm")
	id := fs.Int64("product", 0, "product id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	s, err := a.session(ctx, *id)
	if err != nil {
		return err
	}
	defer s.Close()

	if s.State() == alertsession.PromptCreate {
		return fmt.Errorf("%w: no alert for product %d", errs.ErrNotFound, *id)
	}
	if err := s.Confirm(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, alertsession.MsgRemoved)
	return nil
}

func (a *app) alertEdit(ctx context.Context, args []string) error {
	fs := a.flags("alert-edit")
	id := fs.Int64("id", 0, "alert id")
	var th decimal.NullDecimal
	fs.Var(priceFlag{&th}, "threshold", "new target price")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireFlag(*id > 0 && th.Valid, "need -id and -threshold"); err != nil {
		return err
	}
	al, err := a.alerts.Update(ctx, *id, th.Decimal)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "alert #%d threshold %s\n", al.AlertID, al.ThresholdPrice.StringFixed(2))
	return nil
}
