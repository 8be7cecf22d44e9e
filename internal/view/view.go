// Package view derives the visible, filtered and sorted inbox from the
// canonical list without ever modifying it.
package view

import (
	"slices"
	"strings"
	"time"

	"inboxsync/internal/domain"
)

type QuickFilter string

const (
	QuickAll    QuickFilter = "all"
	QuickUnread QuickFilter = "unread"
	QuickGroups QuickFilter = "groups"
)

type DateRange string

const (
	RangeAll   DateRange = "all"
	RangeToday DateRange = "today"
	RangeWeek  DateRange = "week"
	RangeMonth DateRange = "month"
)

type SortBy string

const (
	SortRecent       SortBy = "recent"
	SortUnread       SortBy = "unread"
	SortAlphabetical SortBy = "alphabetical"
)

// Filters are the advanced boolean filters. They combine with AND.
type Filters struct {
	UnreadOnly bool `json:"unreadOnly"`
	HasMedia   bool `json:"hasMedia"`
	HasProduct bool `json:"hasProduct"`
}

type Query struct {
	Quick   QuickFilter `json:"quick"`
	Filters Filters     `json:"filters"`
	Range   DateRange   `json:"range"`
	Search  string      `json:"search"`
	Sort    SortBy      `json:"sort"`
}

func DefaultQuery() Query {
	return Query{Quick: QuickAll, Range: RangeAll, Sort: SortRecent}
}

// Compute returns the view of list under q: quick filter, advanced filters,
// date range, search, then a stable sort. list is not modified.
func Compute(list []domain.ConversationSummary, q Query, now time.Time) []domain.ConversationSummary {
	since, bounded := rangeStart(q.Range, now)
	needle := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]domain.ConversationSummary, 0, len(list))
	for _, c := range list {
		if !matchQuick(c, q.Quick) || !matchFilters(c, q.Filters) {
			continue
		}
		if bounded && c.UpdatedAt.Before(since) {
			continue
		}
		if needle != "" && !matchSearch(c, needle) {
			continue
		}
		out = append(out, c)
	}

	if cmp := comparator(q.Sort); cmp != nil {
		slices.SortStableFunc(out, cmp)
	}
	return out
}

func matchQuick(c domain.ConversationSummary, f QuickFilter) bool {
	switch f {
	case QuickUnread:
		return c.UnreadCount > 0
	case QuickGroups:
		return c.IsGroup
	default:
		return true
	}
}

func matchFilters(c domain.ConversationSummary, f Filters) bool {
	if f.UnreadOnly && c.UnreadCount <= 0 {
		return false
	}
	if f.HasMedia && (c.LastMessage == nil || !c.LastMessage.Type.IsMedia()) {
		return false
	}
	if f.HasProduct && c.AssociatedProduct == nil {
		return false
	}
	return true
}

// rangeStart returns the earliest updatedAt admitted by r. Today starts at
// local midnight of now.
func rangeStart(r DateRange, now time.Time) (time.Time, bool) {
	switch r {
	case RangeToday:
		y, m, d := now.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, now.Location()), true
	case RangeWeek:
		return now.AddDate(0, 0, -7), true
	case RangeMonth:
		return now.AddDate(0, 0, -30), true
	default:
		return time.Time{}, false
	}
}

func matchSearch(c domain.ConversationSummary, needle string) bool {
	if strings.Contains(strings.ToLower(c.OtherParticipant.DisplayName), needle) {
		return true
	}
	if c.AssociatedProduct != nil && strings.Contains(strings.ToLower(c.AssociatedProduct.Title), needle) {
		return true
	}
	if c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), needle) {
		return true
	}
	return false
}

func comparator(s SortBy) func(a, b domain.ConversationSummary) int {
	switch s {
	case SortUnread:
		return func(a, b domain.ConversationSummary) int {
			return b.UnreadCount - a.UnreadCount
		}
	case SortAlphabetical:
		return func(a, b domain.ConversationSummary) int {
			return strings.Compare(
				strings.ToLower(a.OtherParticipant.DisplayName),
				strings.ToLower(b.OtherParticipant.DisplayName),
			)
		}
	case SortRecent:
		return func(a, b domain.ConversationSummary) int {
			return b.UpdatedAt.Compare(a.UpdatedAt)
		}
	default:
		return nil
	}
}
