package directory

import (
	"sort"
	"strings"

	"thread-sync/internal/models"
)

// Filter selects a thread list view.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterUnread   Filter = "unread"
	FilterGroups   Filter = "groups"
	FilterArchived Filter = "archived"
	FilterHidden   Filter = "hidden"
)

// ParseFilter maps a query value to a Filter, defaulting to all.
func ParseFilter(s string) Filter {
	switch Filter(s) {
	case FilterUnread, FilterGroups, FilterArchived, FilterHidden:
		return Filter(s)
	default:
		return FilterAll
	}
}

// FilteredView derives a thread list from current state. Pure with respect
// to the snapshot: deleted threads never appear; hidden threads appear only
// in the hidden view; archived only in the archived view; unread requires a
// positive count; groups covers group and event threads. Search matches the
// resolved display title, case-insensitively. Order is descending updatedAt.
func (d *Directory) FilteredView(filter Filter, userID, search string) []models.Thread {
	d.mu.RLock()
	matched := make([]models.Thread, 0, len(d.threads))
	for _, t := range d.threads {
		if passesFilter(t, filter, userID) && matchesSearch(t, userID, search) {
			matched = append(matched, t.Clone())
		}
	}
	d.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

func passesFilter(t models.Thread, filter Filter, userID string) bool {
	if t.DeletedBy.Has(userID) {
		return false
	}

	if filter == FilterHidden {
		return t.HiddenBy.Has(userID)
	}
	if t.HiddenBy.Has(userID) {
		return false
	}

	if filter == FilterArchived {
		return t.ArchivedBy.Has(userID)
	}
	if t.ArchivedBy.Has(userID) {
		return false
	}

	switch filter {
	case FilterUnread:
		return t.UnreadFor(userID) > 0
	case FilterGroups:
		return t.Type == models.ThreadGroup || t.Type == models.ThreadEvent
	default:
		return true
	}
}

func matchesSearch(t models.Thread, userID, search string) bool {
	if search == "" {
		return true
	}
	title := strings.ToLower(t.DisplayTitle(userID))
	return strings.Contains(title, strings.ToLower(search))
}
