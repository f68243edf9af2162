package workspace

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// Project returns the records of list whose name contains query, ignoring
// case. Order is preserved. An empty (or blank) query returns list itself.
func Project(list []models.FileRecord, query string) []models.FileRecord {
	needle := foldName(strings.TrimSpace(query))
	if needle == "" {
		return list
	}

	out := make([]models.FileRecord, 0, len(list))
	for _, r := range list {
		if strings.Contains(foldName(r.Name), needle) {
			out = append(out, r)
		}
	}
	return out
}

// foldName returns the NFC, case-folded form of s.
func foldName(s string) string {
	if s == "" {
		return s
	}
	return cases.Fold().String(norm.NFC.String(s))
}
