package client

import (
	"context"
	"net/http"

	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/protocol"
)

// ListContexts returns the contexts the principal belongs to. Concurrent
// callers share one request.
func (c *Client) ListContexts(ctx context.Context) ([]models.Context, error) {
	v, err, _ := c.contexts.Do("groups", func() (any, error) {
		resp, err := c.read(ctx, http.MethodGet, "/api/v1/groups", nil, nil)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		var list protocol.ContextListResponse
		if err := decode(resp, &list); err != nil {
			return nil, err
		}
		return list.Groups, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]models.Context(nil), v.([]models.Context)...), nil
}

// CreateContext creates a new context owned by the principal.
func (c *Client) CreateContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	return c.enter(ctx, "/api/v1/groups", name, secret, role)
}

// JoinContext joins an existing context using its shared secret.
func (c *Client) JoinContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	return c.enter(ctx, "/api/v1/groups/join", name, secret, role)
}

func (c *Client) enter(ctx context.Context, path, name, secret string, role models.Role) (*models.Context, error) {
	result := &models.Context{}
	req := protocol.ContextRequest{Name: name, Secret: secret, Role: role}
	if err := c.mutateJSON(ctx, http.MethodPost, path, req, result); err != nil {
		return nil, err
	}
	return result, nil
}

// LeaveContext removes the principal from a context.
func (c *Client) LeaveContext(ctx context.Context, contextID string) error {
	return c.mutateJSON(ctx, http.MethodDelete, "/api/v1/groups/"+escape(contextID)+"/membership", nil, nil)
}
