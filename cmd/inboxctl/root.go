package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"inboxsync/internal/api"
	"inboxsync/internal/config"
	"inboxsync/internal/session"
	"inboxsync/internal/view"
)

type app struct {
	cfg     *config.Client
	logger  *slog.Logger
	envFile string
	apiURL  string
	user    string
	pass    string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "inboxctl",
		Short:         "Inspect and manage a conversation inbox",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	cmd.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file to preload")
	cmd.PersistentFlags().StringVar(&a.apiURL, "api-url", "", "REST base URL (overrides INBOX_API_URL)")
	cmd.PersistentFlags().StringVarP(&a.user, "username", "u", "", "account name (overrides INBOX_USERNAME)")
	cmd.PersistentFlags().StringVarP(&a.pass, "password", "p", "", "account password (overrides INBOX_PASSWORD)")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newLoginCmd(a),
		newListCmd(a),
		newWatchCmd(a),
		newDeleteCmd(a),
		newSendCmd(a),
		newEditCmd(a),
		newUnsendCmd(a),
		newOpenCmd(a),
		newReadCmd(a),
		newUsersCmd(a),
	)
	return cmd
}

func (a *app) load() error {
	if err := config.LoadDotEnv(a.envFile); err != nil {
		return err
	}
	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if a.apiURL != "" {
		cfg.APIURL = strings.TrimRight(a.apiURL, "/")
		if cfg.WSURL, err = config.DeriveWSURL(cfg.APIURL); err != nil {
			return err
		}
	}
	if a.user != "" {
		cfg.Username = a.user
	}
	if a.pass != "" {
		cfg.Password = a.pass
	}
	if a.verbose {
		cfg.LogLevel = slog.LevelDebug
	}
	a.cfg = cfg
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	return nil
}

func (a *app) credentials() error {
	if a.cfg.Username == "" || a.cfg.Password == "" {
		return fmt.Errorf("username and password are required (flags or INBOX_USERNAME / INBOX_PASSWORD)")
	}
	return nil
}

// client returns a REST client that logs in for every request.
func (a *app) client() (*api.Client, error) {
	if err := a.credentials(); err != nil {
		return nil, err
	}
	login := api.NewClient(a.cfg.APIURL, nil, api.WithLogger(a.logger))
	return api.NewClient(a.cfg.APIURL, api.NewLoginTokenSource(login, a.cfg.Username, a.cfg.Password),
		api.WithLogger(a.logger)), nil
}

func (a *app) session(ctx context.Context) (*session.Session, error) {
	if err := a.credentials(); err != nil {
		return nil, err
	}
	login := api.NewClient(a.cfg.APIURL, nil, api.WithLogger(a.logger))
	s, err := session.New(session.Options{
		APIURL:          a.cfg.APIURL,
		WSURL:           a.cfg.WSURL,
		Tokens:          api.NewLoginTokenSource(login, a.cfg.Username, a.cfg.Password),
		PageSize:        a.cfg.PageSize,
		RequestTimeout:  a.cfg.RequestTimeout,
		CollapseWindow:  a.cfg.CollapseWindow,
		SearchDebounce:  a.cfg.SearchDebounce,
		RefreshDebounce: a.cfg.RefreshDebounce,
		Logger:          a.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

type queryFlags struct {
	quick      string
	rng        string
	sort       string
	search     string
	unreadOnly bool
	hasMedia   bool
	hasProduct bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.quick, "quick", string(view.QuickAll), "quick filter: all, unread, groups")
	cmd.Flags().StringVar(&f.rng, "range", string(view.RangeAll), "date range: all, today, week, month")
	cmd.Flags().StringVar(&f.sort, "sort", string(view.SortRecent), "order: recent, unread, alphabetical")
	cmd.Flags().StringVarP(&f.search, "search", "s", "", "case-insensitive text search")
	cmd.Flags().BoolVar(&f.unreadOnly, "unread-only", false, "only conversations with unread messages")
	cmd.Flags().BoolVar(&f.hasMedia, "has-media", false, "only conversations whose last message is an image or video")
	cmd.Flags().BoolVar(&f.hasProduct, "has-product", false, "only conversations about a product")
}

func (f *queryFlags) query() (view.Query, error) {
	q := view.Query{
		Quick:  view.QuickFilter(f.quick),
		Range:  view.DateRange(f.rng),
		Sort:   view.SortBy(f.sort),
		Search: f.search,
		Filters: view.Filters{
			UnreadOnly: f.unreadOnly,
			HasMedia:   f.hasMedia,
			HasProduct: f.hasProduct,
		},
	}
	switch q.Quick {
	case view.QuickAll, view.QuickUnread, view.QuickGroups:
	default:
		return q, fmt.Errorf("unknown quick filter %q", f.quick)
	}
	switch q.Range {
	case view.RangeAll, view.RangeToday, view.RangeWeek, view.RangeMonth:
	default:
		return q, fmt.Errorf("unknown date range %q", f.rng)
	}
	switch q.Sort {
	case view.SortRecent, view.SortUnread, view.SortAlphabetical:
	default:
		return q, fmt.Errorf("unknown sort %q", f.sort)
	}
	return q, nil
}
