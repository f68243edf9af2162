package models

import "github.com/dustin/go-humanize"

// Role is a principal's role inside a context.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// Context is a workspace (group) the principal belongs to.
type Context struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Role       Role   `json:"role"`
	QuotaBytes int64  `json:"quota_bytes"`
}

// QuotaLabel returns a human readable quota; zero means unlimited.
func (c Context) QuotaLabel() string {
	if c.QuotaBytes <= 0 {
		return "unlimited"
	}
	return humanize.IBytes(uint64(c.QuotaBytes))
}

// FindContext returns the context with the given id from list.
func FindContext(list []Context, id string) (Context, bool) {
	if id == "" {
		return Context{}, false
	}
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return Context{}, false
}
