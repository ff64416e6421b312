package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	tsclient "github.com/civiclens/civiclens/backend/internal/infrastructure/clients/typesense"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/typesense/typesense-go/v2/typesense"
	"github.com/typesense/typesense-go/v2/typesense/api"
	"github.com/typesense/typesense-go/v2/typesense/api/pointer"
)

// maxIndexedRunes caps the document body sent to Typesense
const maxIndexedRunes = 100000

// TypesenseAdapter implements policy search using Typesense
type TypesenseAdapter struct {
	client *tsclient.Client
}

var _ repositories.PolicySearchRepository = (*TypesenseAdapter)(nil)

// NewTypesenseAdapter creates a new Typesense adapter
func NewTypesenseAdapter(client *tsclient.Client) *TypesenseAdapter {
	return &TypesenseAdapter{client: client}
}

// Index upserts the searchable view of a policy and its extracted text
func (a *TypesenseAdapter) Index(ctx context.Context, policy *entities.PolicyDocument, text string) error {
	_, err := a.client.Client().Collection(tsclient.PoliciesCollection).Documents().Upsert(ctx, buildPolicyDocument(policy, text))
	if err != nil {
		return apperrors.NewExternalError("failed to index policy "+policy.ID, err)
	}
	return nil
}

// Delete removes a policy from the index; a policy that was never indexed is ignored
func (a *TypesenseAdapter) Delete(ctx context.Context, policyID string) error {
	_, err := a.client.Client().Collection(tsclient.PoliciesCollection).Document(policyID).Delete(ctx)
	var httpErr *typesense.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return nil
	}
	if err != nil {
		return apperrors.NewExternalError("failed to delete policy from index", err)
	}
	return nil
}

// Search runs a full text query over titles, filenames and document bodies
func (a *TypesenseAdapter) Search(ctx context.Context, params repositories.PolicySearchParams) (*repositories.PolicySearchResult, error) {
	params = params.Normalize()

	searchParams := &api.SearchCollectionParams{
		Q:                pointer.String(params.Query),
		QueryBy:          pointer.String("title,filename,content"),
		Page:             pointer.Int(params.Offset/params.Limit + 1),
		PerPage:          pointer.Int(params.Limit),
		HighlightFields:  pointer.String("content"),
		SnippetThreshold: pointer.Int(30),
		ExcludeFields:    pointer.String("content"),
	}
	if filter := buildFilter(params); filter != "" {
		searchParams.FilterBy = pointer.String(filter)
	}

	result, err := a.client.Client().Collection(tsclient.PoliciesCollection).Documents().Search(ctx, searchParams)
	if err != nil {
		return nil, apperrors.NewExternalError("failed to search policies", err)
	}

	out := &repositories.PolicySearchResult{Hits: []repositories.PolicySearchHit{}}
	if result.Found != nil {
		out.Found = *result.Found
	}
	if result.Hits == nil {
		return out, nil
	}

	for _, hit := range *result.Hits {
		if hit.Document == nil {
			continue
		}
		doc := *hit.Document
		entry := repositories.PolicySearchHit{
			PolicyID:     stringField(doc, "id"),
			Title:        stringField(doc, "title"),
			Filename:     stringField(doc, "filename"),
			PolicyType:   entities.PolicyType(stringField(doc, "policy_type")),
			Jurisdiction: stringField(doc, "jurisdiction"),
		}
		if hit.Highlights != nil {
			for _, h := range *hit.Highlights {
				if h.Field != nil && *h.Field == "content" && h.Snippet != nil {
					entry.Snippet = *h.Snippet
					break
				}
			}
		}
		out.Hits = append(out.Hits, entry)
	}

	return out, nil
}

func buildPolicyDocument(policy *entities.PolicyDocument, text string) map[string]interface{} {
	if runes := []rune(text); len(runes) > maxIndexedRunes {
		text = string(runes[:maxIndexedRunes])
	}

	doc := map[string]interface{}{
		"id":         policy.ID,
		"filename":   policy.Filename,
		"content":    text,
		"language":   policy.Language,
		"created_at": policy.CreatedAt.Unix(),
	}
	if policy.Title != "" {
		doc["title"] = policy.Title
	}
	if policy.PolicyType != "" {
		doc["policy_type"] = string(policy.PolicyType)
	}
	if policy.Jurisdiction != "" {
		doc["jurisdiction"] = policy.Jurisdiction
	}
	return doc
}

func buildFilter(params repositories.PolicySearchParams) string {
	var clauses []string
	if params.PolicyType != "" {
		clauses = append(clauses, fmt.Sprintf("policy_type:=%s", quoteFilterValue(string(params.PolicyType))))
	}
	if params.Jurisdiction != "" {
		clauses = append(clauses, fmt.Sprintf("jurisdiction:=%s", quoteFilterValue(params.Jurisdiction)))
	}
	return strings.Join(clauses, " && ")
}

// quoteFilterValue wraps a value in backticks so commas and spaces survive the filter parser
func quoteFilterValue(v string) string {
	return "`" + strings.ReplaceAll(v, "`", "") + "`"
}

func stringField(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}
