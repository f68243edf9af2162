package s3

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/fruitsalade/workspace/internal/logging"
	"github.com/fruitsalade/fruitsalade/workspace/pkg/models"
)

// manifest is the stored form of one context.
type manifest struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	SecretHash string                 `json:"secret_hash"`
	QuotaBytes int64                  `json:"quota_bytes"`
	Members    map[string]models.Role `json:"members"`
	Created    time.Time              `json:"created"`
}

func (m *manifest) view(principal string) models.Context {
	return models.Context{
		ID:         m.ID,
		Name:       m.Name,
		Role:       m.Members[principal],
		QuotaBytes: m.QuotaBytes,
	}
}

// manifests reads every context manifest in the bucket.
func (s *Store) manifests(ctx context.Context) ([]*manifest, error) {
	var out []*manifest
	p := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(s.bucket),
		Delimiter: aws.String("/"),
	})
	for p.HasMorePages() {
		start := time.Now()
		page, err := p.NextPage(ctx)
		observe("list_objects", start, err)
		if err != nil {
			return nil, fmt.Errorf("list contexts: %w", err)
		}
		for _, cp := range page.CommonPrefixes {
			id := strings.TrimSuffix(aws.ToString(cp.Prefix), "/")
			m := &manifest{}
			err := s.getJSON(ctx, manifestKey(id), m)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// ListContexts returns the contexts the principal is a member of, by name.
func (s *Store) ListContexts(ctx context.Context) ([]models.Context, error) {
	all, err := s.manifests(ctx)
	if err != nil {
		return nil, err
	}
	var list []models.Context
	for _, m := range all {
		if _, ok := m.Members[s.principal]; ok {
			list = append(list, m.view(s.principal))
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// CreateContext stores a new context with the principal as its first member.
func (s *Store) CreateContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	name = strings.TrimSpace(name)
	if name == "" || secret == "" {
		return nil, errors.New("context name and secret are required")
	}
	if role == "" {
		role = models.RoleAdmin
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	m := &manifest{
		ID:         uuid.New().String(),
		Name:       name,
		SecretHash: string(hash),
		Members:    map[string]models.Role{s.principal: role},
		Created:    s.now().UTC(),
	}
	if err := s.putJSON(ctx, manifestKey(m.ID), m); err != nil {
		return nil, err
	}
	logging.Info("context created", zap.String("context", m.ID), zap.String("name", name))
	c := m.view(s.principal)
	return &c, nil
}

// JoinContext adds the principal to the context whose name and secret match.
func (s *Store) JoinContext(ctx context.Context, name, secret string, role models.Role) (*models.Context, error) {
	if role == "" {
		role = models.RoleViewer
	}
	all, err := s.manifests(ctx)
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	for _, m := range all {
		if m.Name != name {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(m.SecretHash), []byte(secret)) != nil {
			continue
		}
		if _, ok := m.Members[s.principal]; !ok {
			if m.Members == nil {
				m.Members = make(map[string]models.Role)
			}
			m.Members[s.principal] = role
			if err := s.putJSON(ctx, manifestKey(m.ID), m); err != nil {
				return nil, err
			}
			logging.Info("context joined", zap.String("context", m.ID))
		}
		c := m.view(s.principal)
		return &c, nil
	}
	return nil, ErrForbidden
}

// LeaveContext removes the principal from a context.
func (s *Store) LeaveContext(ctx context.Context, contextID string) error {
	m := &manifest{}
	if err := s.getJSON(ctx, manifestKey(contextID), m); err != nil {
		return fmt.Errorf("context %s: %w", contextID, err)
	}
	if _, ok := m.Members[s.principal]; !ok {
		return fmt.Errorf("context %s: %w", contextID, ErrNotFound)
	}
	delete(m.Members, s.principal)
	return s.putJSON(ctx, manifestKey(contextID), m)
}

func (s *Store) member(ctx context.Context, contextID string) (*manifest, error) {
	m := &manifest{}
	if err := s.getJSON(ctx, manifestKey(contextID), m); err != nil {
		return nil, fmt.Errorf("context %s: %w", contextID, err)
	}
	if _, ok := m.Members[s.principal]; !ok {
		return nil, fmt.Errorf("context %s: %w", contextID, ErrNotFound)
	}
	return m, nil
}
