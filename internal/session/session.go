// Package session wires the inbox components for one signed-in user.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"inboxsync/internal/api"
	"inboxsync/internal/channel"
	"inboxsync/internal/debounce"
	"inboxsync/internal/domain"
	"inboxsync/internal/inbox"
	"inboxsync/internal/mutation"
	"inboxsync/internal/router"
	"inboxsync/internal/security"
	"inboxsync/internal/snapshot"
	"inboxsync/internal/view"
)

const DefaultRefreshDebounce = time.Second

type Options struct {
	APIURL string
	WSURL  string
	Tokens security.TokenSource
	// CurrentUserID is taken from the token subject when empty.
	CurrentUserID string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Policy     channel.Policy

	PageSize        int
	RequestTimeout  time.Duration
	CollapseWindow  time.Duration
	SearchDebounce  time.Duration
	RefreshDebounce time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Session owns every component of one mounted inbox.
type Session struct {
	id     string
	tokens security.TokenSource
	userID string
	logger *slog.Logger

	api       *api.Client
	store     *inbox.Store
	presence  *inbox.Presence
	loader    *snapshot.Loader
	router    *router.Router
	channel   *channel.Client
	mutations *mutation.Coordinator
	engine    *view.Engine
	selection *view.Selection
	refresh   *debounce.Debouncer

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) (*Session, error) {
	if opts.APIURL == "" || opts.WSURL == "" {
		return nil, fmt.Errorf("session: api and ws urls are required: %w", domain.ErrInvalidInput)
	}
	if opts.Tokens == nil {
		return nil, fmt.Errorf("session: token source is required: %w", domain.ErrInvalidInput)
	}
	if opts.RefreshDebounce <= 0 {
		opts.RefreshDebounce = DefaultRefreshDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	id := uuid.NewString()
	logger := opts.Logger.With("session_id", id)

	apiOpts := []api.Option{api.WithLogger(logger)}
	if opts.HTTPClient != nil {
		apiOpts = append(apiOpts, api.WithHTTPClient(opts.HTTPClient))
	}

	s := &Session{
		id:        id,
		tokens:    opts.Tokens,
		userID:    opts.CurrentUserID,
		logger:    logger.With("component", "session"),
		api:       api.NewClient(opts.APIURL, opts.Tokens, apiOpts...),
		presence:  inbox.NewPresence(),
		selection: view.NewSelection(),
	}
	s.store = inbox.NewStore(inbox.StoreOptions{
		CurrentUserID:  opts.CurrentUserID,
		CollapseWindow: opts.CollapseWindow,
		Now:            opts.Now,
		Logger:         logger,
	})
	s.loader = snapshot.NewLoader(s.api, s.store, snapshot.Options{
		PageSize: opts.PageSize,
		Timeout:  opts.RequestTimeout,
		Logger:   logger,
	})
	s.refresh = debounce.New(opts.RefreshDebounce, s.backgroundRefresh)
	s.router = router.New(s.store, s.presence, s.refresh, router.Options{
		CollapseWindow: opts.CollapseWindow,
		Now:            opts.Now,
		Logger:         logger,
	})
	s.channel = channel.NewClient(opts.WSURL, opts.Tokens, channel.Options{
		Dialer: opts.Dialer,
		Policy: opts.Policy,
		Logger: logger,
	})
	s.mutations = mutation.NewCoordinator(s.store, s.api, s.loader, mutation.Options{
		Emitter:   s.channel,
		Selection: s.selection,
		Logger:    logger,
	})
	s.engine = view.NewEngine(s.store, view.EngineOptions{
		SearchDebounce: opts.SearchDebounce,
		Now:            opts.Now,
		Logger:         logger,
	})
	return s, nil
}

func (s *Session) ID() string { return s.id }

// UserID is the signed-in user, known after Start.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// identify learns the current user from the subject of a fresh token.
func (s *Session) identify(ctx context.Context) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("session: issue token: %w", err)
	}
	sub, err := security.SubjectOf(token)
	if err != nil {
		return fmt.Errorf("session: read token subject: %w", err)
	}
	s.mu.Lock()
	s.userID = sub
	s.mu.Unlock()
	s.store.SetCurrentUser(sub)
	return nil
}

// Start connects the push channel and loads the first page. The channel
// keeps running until Close even when the first load fails.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return errors.New("session: already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.UserID() == "" {
		if err := s.identify(ctx); err != nil {
			s.mu.Lock()
			s.started = false
			s.mu.Unlock()
			return err
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	s.channel.Listen("router", s.router.Handle)
	s.channel.OnStatus("session", func(st channel.Status, err error) {
		s.logger.Debug("channel status", "status", st, "error", err)
		if st == channel.StatusConnected {
			// events may have been missed while disconnected
			s.refresh.Trigger()
		}
	})

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.channel.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("channel stopped", "error", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		s.pruneSelection(runCtx)
	}()

	s.logger.Info("session started", "user_id", s.UserID())
	return s.loader.Refresh(ctx, true)
}

func (s *Session) pruneSelection(ctx context.Context) {
	changes, unsubscribe := s.store.Subscribe()
	defer unsubscribe()
	for {
		select {
		case <-changes:
			s.selection.Retain(s.store.Snapshot())
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) backgroundRefresh() {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*snapshot.DefaultTimeout)
	defer cancel()
	_ = s.loader.Refresh(ctx, false)
}

// Refresh reloads the first page on user request. Failures are returned.
func (s *Session) Refresh(ctx context.Context) error {
	return s.loader.Refresh(ctx, true)
}

// LoadMore fetches the next page on user request.
func (s *Session) LoadMore(ctx context.Context) error {
	return s.loader.LoadMore(ctx, true)
}

// OnScroll loads the next page in the background once index, a row of the
// current view, is close to the end.
func (s *Session) OnScroll(ctx context.Context, index int) {
	if !snapshot.NearEnd(index, len(s.engine.View())) {
		return
	}
	_ = s.loader.LoadMore(ctx, false)
}

// Foreground reconnects the channel at once and schedules a refresh.
func (s *Session) Foreground() {
	s.channel.Foreground()
	s.refresh.Trigger()
}

// Retry skips the channel's reconnect delay.
func (s *Session) Retry() {
	s.channel.Retry()
}

// BulkDelete deletes the selected conversations.
func (s *Session) BulkDelete(ctx context.Context) error {
	return s.mutations.BulkDelete(ctx, s.selection.IDs())
}

func (s *Session) DeleteOne(ctx context.Context, id string) error {
	return s.mutations.DeleteOne(ctx, id)
}

func (s *Session) Selection() *view.Selection { return s.selection }

func (s *Session) View() []domain.ConversationSummary { return s.engine.View() }

func (s *Session) Query() view.Query { return s.engine.Query() }

// Changes is signalled whenever the view changes.
func (s *Session) Changes() (<-chan struct{}, func()) { return s.engine.Changes() }

func (s *Session) SetSearch(text string) { s.engine.SetSearch(text) }
func (s *Session) SetQuickFilter(f view.QuickFilter) { s.engine.SetQuickFilter(f) }
func (s *Session) SetFilters(f view.Filters) { s.engine.SetFilters(f) }
func (s *Session) SetDateRange(r view.DateRange) { s.engine.SetDateRange(r) }
func (s *Session) SetSort(by view.SortBy) { s.engine.SetSort(by) }

// NavigateAway clears the search text and quick filter. In-flight requests
// are left alone.
func (s *Session) NavigateAway() {
	s.engine.ClearTransient()
}

func (s *Session) Status() channel.Status { return s.channel.Status() }

func (s *Session) Typing(conversationID string) []string { return s.presence.Typing(conversationID) }

func (s *Session) IsOnline(userID string) bool { return s.presence.IsOnline(userID) }

func (s *Session) HasMore() bool { return s.loader.HasMore() }

func (s *Session) Loading() bool { return s.loader.Loading() }

// API exposes the REST client for calls outside the inbox list.
func (s *Session) API() *api.Client { return s.api }

// Close unmounts the session: listeners are removed, the channel is
// disconnected and every timer is stopped.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel := s.cancel
	s.mu.Unlock()

	s.channel.Close()
	s.refresh.Stop()
	s.engine.Close()
	s.loader.Cancel()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.presence.Reset()
	s.logger.Info("session closed")
}
