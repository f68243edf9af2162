package workspace

import "github.com/fruitsalade/fruitsalade/workspace/pkg/models"

// Resolve picks the active context from available. The preferred ids are
// tried in order (typically the explicit hint, the currently active context
// and the session's last context); ids that are empty or missing from
// available are skipped. Falls back to the first available context and
// returns nil when available is empty.
func Resolve(available []models.Context, preferred ...string) *models.Context {
	for _, id := range preferred {
		if id == "" {
			continue
		}
		if c, ok := models.FindContext(available, id); ok {
			return &c
		}
	}
	if len(available) == 0 {
		return nil
	}
	c := available[0]
	return &c
}
