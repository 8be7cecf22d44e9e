package view

import (
	"log/slog"
	"sync"
	"time"

	"inboxsync/internal/debounce"
	"inboxsync/internal/domain"
)

const DefaultSearchDebounce = 400 * time.Millisecond

// Source is the canonical list the engine derives from.
type Source interface {
	Snapshot() []domain.ConversationSummary
	Subscribe() (<-chan struct{}, func())
}

type EngineOptions struct {
	SearchDebounce time.Duration
	Now            func() time.Time
	Logger         *slog.Logger
}

// Engine keeps the current view up to date with the source and the query.
// Search text is applied after a quiet period; every other query change and
// every source change recomputes immediately.
type Engine struct {
	src    Source
	now    func() time.Time
	logger *slog.Logger
	search *debounce.Debouncer

	mu      sync.Mutex
	query   Query
	pending string
	result  []domain.ConversationSummary
	closed  bool

	subMu  sync.Mutex
	subs   map[int]chan struct{}
	nextID int

	unsubscribe func()
	done        chan struct{}
}

func NewEngine(src Source, opts EngineOptions) *Engine {
	if opts.SearchDebounce <= 0 {
		opts.SearchDebounce = DefaultSearchDebounce
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	e := &Engine{
		src:    src,
		now:    opts.Now,
		logger: opts.Logger.With("component", "view"),
		query:  DefaultQuery(),
		subs:   make(map[int]chan struct{}),
		done:   make(chan struct{}),
	}
	e.search = debounce.New(opts.SearchDebounce, e.applySearch)

	changes, unsubscribe := src.Subscribe()
	e.unsubscribe = unsubscribe
	e.recompute(func(*Query) {})
	go e.watch(changes)
	return e
}

func (e *Engine) watch(changes <-chan struct{}) {
	for {
		select {
		case <-changes:
			e.recompute(func(*Query) {})
		case <-e.done:
			return
		}
	}
}

// recompute applies edit to the query and rebuilds the view.
func (e *Engine) recompute(edit func(q *Query)) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	edit(&e.query)
	e.result = Compute(e.src.Snapshot(), e.query, e.now())
	n := len(e.result)
	e.mu.Unlock()

	e.logger.Debug("view recomputed", "rows", n)
	e.notify()
}

func (e *Engine) applySearch() {
	e.recompute(func(q *Query) { q.Search = e.pending })
}

// View returns the current rows.
func (e *Engine) View() []domain.ConversationSummary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRows(e.result)
}

func cloneRows(in []domain.ConversationSummary) []domain.ConversationSummary {
	out := make([]domain.ConversationSummary, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}

// Query returns the applied query. A search still waiting for its quiet
// period is not included.
func (e *Engine) Query() Query {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.query
}

func (e *Engine) SetSearch(text string) {
	e.mu.Lock()
	e.pending = text
	e.mu.Unlock()
	e.search.Trigger()
}

// FlushSearch applies a pending search text without waiting.
func (e *Engine) FlushSearch() {
	e.search.Flush()
}

func (e *Engine) SetQuickFilter(f QuickFilter) {
	e.recompute(func(q *Query) { q.Quick = f })
}

func (e *Engine) SetFilters(f Filters) {
	e.recompute(func(q *Query) { q.Filters = f })
}

func (e *Engine) SetDateRange(r DateRange) {
	e.recompute(func(q *Query) { q.Range = r })
}

func (e *Engine) SetSort(s SortBy) {
	e.recompute(func(q *Query) { q.Sort = s })
}

// ClearTransient resets the search text and quick filter, dropping a
// search that has not been applied yet.
func (e *Engine) ClearTransient() {
	e.search.Cancel()
	e.recompute(func(q *Query) {
		e.pending = ""
		q.Search = ""
		q.Quick = QuickAll
	})
}

// Changes returns a channel signalled after every recomputation. Signals
// coalesce while the receiver is busy.
func (e *Engine) Changes() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	e.subMu.Lock()
	id := e.nextID
	e.nextID++
	e.subs[id] = ch
	e.subMu.Unlock()

	return ch, func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

func (e *Engine) notify() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close cancels a pending search and stops following the source.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	e.search.Stop()
	e.unsubscribe()
	close(e.done)
}
