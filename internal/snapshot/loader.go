// Package snapshot loads pages of conversation summaries from the REST API
// and merges them into the inbox store.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"inboxsync/internal/api"
	"inboxsync/internal/domain"
)

const (
	DefaultPageSize = 25
	DefaultTimeout  = 10 * time.Second
	// LoadMoreThreshold is the fraction of the list, counted from its end,
	// inside which the consumer should ask for the next page.
	LoadMoreThreshold = 0.3
)

// Lister is the REST call the loader depends on.
type Lister interface {
	ListConversations(ctx context.Context, page, limit int, sort string) (*api.Page, error)
}

// Merger is the store path every loaded page goes through.
type Merger interface {
	BeginSnapshot() uint64
	EndSnapshot(since uint64)
	MergeSnapshot(items []domain.ConversationSummary, since uint64) int
}

// Result is one loaded page.
type Result struct {
	Items   []domain.ConversationSummary
	HasMore bool
}

type Options struct {
	PageSize int
	Timeout  time.Duration
	Sort     string
	Logger   *slog.Logger
}

// Loader owns the pagination cursor and the in-flight request.
type Loader struct {
	api      Lister
	store    Merger
	pageSize int
	timeout  time.Duration
	sort     string
	logger   *slog.Logger

	mu       sync.Mutex
	page     int
	hasMore  bool
	cancel   context.CancelFunc
	inflight uint64
	seq      uint64
}

func NewLoader(lister Lister, store Merger, opts Options) *Loader {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Sort == "" {
		opts.Sort = "recent"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{
		api:      lister,
		store:    store,
		pageSize: opts.PageSize,
		timeout:  opts.Timeout,
		sort:     opts.Sort,
		logger:   opts.Logger.With("component", "snapshot"),
		hasMore:  true,
	}
}

// Load fetches one page, bounded by the loader's timeout. It does not touch
// the store or the cursor.
func (l *Loader) Load(ctx context.Context, page, pageSize int) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	p, err := l.api.ListConversations(ctx, page, pageSize, l.sort)
	if err != nil {
		return Result{}, err
	}
	res := Result{Items: p.Conversations}
	if p.HasMore != nil {
		res.HasMore = *p.HasMore
	} else {
		// best effort: a full final page reports one extra empty page
		res.HasMore = len(p.Conversations) >= pageSize
	}
	return res, nil
}

// Refresh reloads the first page, superseding any request in flight.
// Failures are only returned when explicit is set.
func (l *Loader) Refresh(ctx context.Context, explicit bool) error {
	ctx, seq := l.begin(ctx, true)
	if ctx == nil {
		return nil
	}
	return l.run(ctx, seq, 1, explicit)
}

// LoadMore fetches the page after the last loaded one. It is a no-op while
// another request is in flight or when the server has no more pages.
func (l *Loader) LoadMore(ctx context.Context, explicit bool) error {
	l.mu.Lock()
	if !l.hasMore || l.page == 0 {
		l.mu.Unlock()
		return nil
	}
	next := l.page + 1
	l.mu.Unlock()

	ctx, seq := l.begin(ctx, false)
	if ctx == nil {
		return nil
	}
	return l.run(ctx, seq, next, explicit)
}

// begin registers a new in-flight request. A refresh cancels the current
// one; a load-more yields to it and gets a nil context.
func (l *Loader) begin(parent context.Context, supersede bool) (context.Context, uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		if !supersede {
			return nil, 0
		}
		l.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	l.seq++
	l.cancel = cancel
	l.inflight = l.seq
	return ctx, l.seq
}

func (l *Loader) finish(seq uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inflight != seq {
		return false
	}
	l.cancel()
	l.cancel = nil
	l.inflight = 0
	return true
}

func (l *Loader) run(ctx context.Context, seq uint64, page int, explicit bool) error {
	since := l.store.BeginSnapshot()
	res, err := l.Load(ctx, page, l.pageSize)
	current := l.finish(seq)
	if err != nil || !current {
		l.store.EndSnapshot(since)
	}

	if err != nil {
		if !current && errors.Is(err, context.Canceled) {
			l.logger.Debug("load superseded", "page", page)
			return nil
		}
		if !explicit {
			l.logger.Warn("background load failed", "page", page, "error", err)
			return nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("load page %d: %w: %w", page, domain.ErrTransient, err)
		}
		return fmt.Errorf("load page %d: %w", page, err)
	}

	if !current {
		l.logger.Debug("stale page dropped", "page", page, "items", len(res.Items))
		return nil
	}

	inserted := l.store.MergeSnapshot(res.Items, since)
	l.mu.Lock()
	l.page = page
	l.hasMore = res.HasMore
	l.mu.Unlock()
	l.logger.Debug("page loaded", "page", page, "items", len(res.Items), "inserted", inserted, "has_more", res.HasMore)
	return nil
}

// HasMore reports whether another page is expected.
func (l *Loader) HasMore() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.hasMore
}

// Page returns the last loaded page number, 0 before the first load.
func (l *Loader) Page() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.page
}

// Loading reports whether a request is in flight.
func (l *Loader) Loading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Cancel aborts the in-flight request, if any.
func (l *Loader) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// NearEnd reports whether index is within LoadMoreThreshold of the end of a
// list of total rows.
func NearEnd(index, total int) bool {
	if total <= 0 {
		return true
	}
	remaining := total - 1 - index
	return float64(remaining) <= float64(total)*LoadMoreThreshold
}
