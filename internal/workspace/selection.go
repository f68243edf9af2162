package workspace

import (
	"sort"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// Selection is a set of content ids. Positions in a filtered view are
// derived from it on demand and never stored.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection returns a selection holding ids.
func NewSelection(ids ...string) Selection {
	s := Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	c := Selection{ids: make(map[string]struct{}, len(s.ids))}
	for id := range s.ids {
		c.ids[id] = struct{}{}
	}
	return c
}

func (s *Selection) ensure() {
	if s.ids == nil {
		s.ids = make(map[string]struct{})
	}
}

// Has reports whether id is selected.
func (s Selection) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of selected ids.
func (s Selection) Len() int {
	return len(s.ids)
}

// IDs returns the selected ids in sorted order.
func (s Selection) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Toggle adds or removes one id.
func (s *Selection) Toggle(id string, checked bool) {
	s.ensure()
	if checked {
		s.ids[id] = struct{}{}
	} else {
		delete(s.ids, id)
	}
}

// ToggleAll selects every record in filtered, or deselects exactly those
// records. Selections hidden by the filter are never touched.
func (s *Selection) ToggleAll(filtered []models.FileRecord, checked bool) {
	s.ensure()
	for _, r := range filtered {
		if checked {
			s.ids[r.ContentID] = struct{}{}
		} else {
			delete(s.ids, r.ContentID)
		}
	}
}

// Displayed returns the positions in filtered whose record is selected.
func (s Selection) Displayed(filtered []models.FileRecord) []int {
	var positions []int
	for i, r := range filtered {
		if s.Has(r.ContentID) {
			positions = append(positions, i)
		}
	}
	return positions
}

// Prune drops every id that does not belong to a record of list.
func (s *Selection) Prune(list []models.FileRecord) {
	if len(s.ids) == 0 {
		return
	}
	present := make(map[string]struct{}, len(list))
	for _, r := range list {
		present[r.ContentID] = struct{}{}
	}
	for id := range s.ids {
		if _, ok := present[id]; !ok {
			delete(s.ids, id)
		}
	}
}

// Clear removes every id.
func (s *Selection) Clear() {
	s.ids = nil
}
