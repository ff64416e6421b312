package repositories

import (
	"context"
	"strings"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
)

// PolicySearchRepository defines full-text search over extracted policy text (e.g. Typesense)
type PolicySearchRepository interface {
	// Index upserts a policy and its extracted text
	Index(ctx context.Context, policy *entities.PolicyDocument, text string) error

	// Delete removes a policy from the index
	Delete(ctx context.Context, id string) error

	// Search runs a full-text query
	Search(ctx context.Context, params PolicySearchParams) (*PolicySearchResult, error)
}

// PolicySearchParams defines a full-text query with optional exact filters
type PolicySearchParams struct {
	Query        string
	PolicyType   entities.PolicyType
	Jurisdiction string
	Limit        int
	Offset       int
}

// Normalize applies the listing limits and turns an empty query into a match-all
func (p PolicySearchParams) Normalize() PolicySearchParams {
	p.Query = strings.TrimSpace(p.Query)
	if p.Query == "" {
		p.Query = "*"
	}
	if p.Limit <= 0 {
		p.Limit = DefaultListLimit
	}
	if p.Limit > MaxListLimit {
		p.Limit = MaxListLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PolicySearchHit is one ranked match
type PolicySearchHit struct {
	PolicyID     string              `json:"policy_id"`
	Title        string              `json:"title,omitempty"`
	Filename     string              `json:"filename"`
	PolicyType   entities.PolicyType `json:"policy_type,omitempty"`
	Jurisdiction string              `json:"jurisdiction,omitempty"`
	Snippet      string              `json:"snippet,omitempty"`
}

// PolicySearchResult holds ranked hits and the total match count
type PolicySearchResult struct {
	Hits  []PolicySearchHit `json:"hits"`
	Found int               `json:"found"`
}
