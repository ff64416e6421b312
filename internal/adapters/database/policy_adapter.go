package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/civiclens/civiclens/backend/internal/domain/entities"
	"github.com/civiclens/civiclens/backend/internal/domain/repositories"
	"github.com/civiclens/civiclens/backend/internal/infrastructure/clients/postgres"
	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
)

var policyColumns = []interface{}{
	"id", "title", "description", "filename", "file_size", "file_hash",
	"content_type", "storage_key", "language", "jurisdiction", "policy_type",
	"status", "created_at", "updated_at", "archived_at",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PolicyAdapter implements the PolicyRepository interface
type PolicyAdapter struct {
	client *postgres.Client
	db     *goqu.Database
}

var _ repositories.PolicyRepository = (*PolicyAdapter)(nil)

// NewPolicyAdapter creates a new policy adapter
func NewPolicyAdapter(client *postgres.Client) *PolicyAdapter {
	return &PolicyAdapter{
		client: client,
		db:     goqu.New("postgres", client.DB()),
	}
}

// Create inserts a new policy with status uploaded
func (a *PolicyAdapter) Create(ctx context.Context, policy *entities.PolicyDocument) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	if policy.CreatedAt.IsZero() {
		policy.CreatedAt = now
	}
	policy.UpdatedAt = now
	policy.Status = entities.PolicyStatusUploaded
	if policy.Language == "" {
		policy.Language = entities.DefaultLanguage
	}

	record := goqu.Record{
		"id":           policy.ID,
		"title":        nullable(policy.Title),
		"description":  nullable(policy.Description),
		"filename":     policy.Filename,
		"file_size":    policy.FileSize,
		"file_hash":    nullable(policy.FileHash),
		"content_type": policy.ContentType,
		"storage_key":  policy.StorageKey,
		"language":     policy.Language,
		"jurisdiction": nullable(policy.Jurisdiction),
		"policy_type":  nullable(string(policy.PolicyType)),
		"status":       string(policy.Status),
		"created_at":   policy.CreatedAt,
		"updated_at":   policy.UpdatedAt,
	}

	query, args, err := a.db.Insert(policiesTable).Rows(record).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build insert query", err)
	}

	if _, err := a.client.DB().ExecContext(ctx, query, args...); err != nil {
		if pqCode(err) == uniqueViolation {
			return apperrors.NewConflictError(fmt.Sprintf("policy %s or its file already exists", policy.ID))
		}
		return apperrors.NewInternalError("failed to create policy", err)
	}

	return nil
}

// GetByID retrieves a policy by ID
func (a *PolicyAdapter) GetByID(ctx context.Context, id string) (*entities.PolicyDocument, error) {
	return a.getOne(ctx, goqu.Ex{"id": id}, fmt.Sprintf("policy with ID '%s' not found", id))
}

// GetByFileHash retrieves the policy holding the given content hash
func (a *PolicyAdapter) GetByFileHash(ctx context.Context, hash string) (*entities.PolicyDocument, error) {
	return a.getOne(ctx, goqu.Ex{"file_hash": hash}, "no policy with hash "+hash)
}

func (a *PolicyAdapter) getOne(ctx context.Context, where goqu.Ex, notFound string) (*entities.PolicyDocument, error) {
	query, args, err := a.db.Select(policyColumns...).From(policiesTable).Where(where).ToSQL()
	if err != nil {
		return nil, apperrors.NewInternalError("failed to build query", err)
	}

	policy, err := scanPolicy(a.client.DB().QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, apperrors.NewNotFoundError(notFound)
	}
	if err != nil {
		return nil, apperrors.NewInternalError("failed to get policy", err)
	}
	return policy, nil
}

// List retrieves policies ordered by created_at DESC, id DESC along with the filtered total
func (a *PolicyAdapter) List(ctx context.Context, filter repositories.PolicyFilter) ([]*entities.PolicyDocument, int, error) {
	filter = filter.Normalize()
	conditions := listConditions(filter)

	countQuery, countArgs, err := a.db.From(policiesTable).
		Select(goqu.COUNT("*")).
		Where(conditions...).
		ToSQL()
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to build count query", err)
	}

	var total int
	if err := a.client.DB().QueryRowContext(ctx, countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperrors.NewInternalError("failed to count policies", err)
	}

	query, args, err := a.db.Select(policyColumns...).
		From(policiesTable).
		Where(conditions...).
		Order(goqu.I("created_at").Desc(), goqu.I("id").Desc()).
		Limit(uint(filter.Limit)).
		Offset(uint(filter.Offset)).
		ToSQL()
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to build list query", err)
	}

	rows, err := a.client.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.NewInternalError("failed to list policies", err)
	}
	defer rows.Close()

	policies := []*entities.PolicyDocument{}
	for rows.Next() {
		policy, err := scanPolicy(rows)
		if err != nil {
			return nil, 0, apperrors.NewInternalError("failed to scan policy", err)
		}
		policies = append(policies, policy)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, apperrors.NewInternalError("failed to iterate policies", err)
	}

	return policies, total, nil
}

func listConditions(filter repositories.PolicyFilter) []exp.Expression {
	var conditions []exp.Expression
	if filter.Status != "" {
		conditions = append(conditions, goqu.Ex{"status": string(filter.Status)})
	}
	if filter.PolicyType != "" {
		conditions = append(conditions, goqu.Ex{"policy_type": string(filter.PolicyType)})
	}
	if filter.Jurisdiction != "" {
		conditions = append(conditions, goqu.C("jurisdiction").ILike("%"+likeEscaper.Replace(filter.Jurisdiction)+"%"))
	}
	return conditions
}

// UpdateStatus overwrites the denormalized status
func (a *PolicyAdapter) UpdateStatus(ctx context.Context, id string, status entities.PolicyStatus) error {
	if !status.Valid() {
		return apperrors.NewValidationError("unknown policy status: " + string(status))
	}
	return a.update(ctx, id, goqu.Record{
		"status":     string(status),
		"updated_at": time.Now().UTC(),
	})
}

// Archive marks the policy archived
func (a *PolicyAdapter) Archive(ctx context.Context, id string, at time.Time) error {
	return a.update(ctx, id, goqu.Record{
		"status":      string(entities.PolicyStatusArchived),
		"archived_at": at,
		"updated_at":  time.Now().UTC(),
	})
}

func (a *PolicyAdapter) update(ctx context.Context, id string, record goqu.Record) error {
	query, args, err := a.db.Update(policiesTable).Set(record).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build update query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to update policy", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	return nil
}

// Delete removes the policy; processing_log rows go with it through ON DELETE CASCADE
func (a *PolicyAdapter) Delete(ctx context.Context, id string) error {
	query, args, err := a.db.Delete(policiesTable).Where(goqu.Ex{"id": id}).ToSQL()
	if err != nil {
		return apperrors.NewInternalError("failed to build delete query", err)
	}

	result, err := a.client.DB().ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewInternalError("failed to delete policy", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apperrors.NewInternalError("failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apperrors.NewNotFoundError(fmt.Sprintf("policy with ID '%s' not found", id))
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPolicy(row rowScanner) (*entities.PolicyDocument, error) {
	policy := &entities.PolicyDocument{}
	var title, description, fileHash, jurisdiction, policyType sql.NullString
	var archivedAt sql.NullTime
	var status string

	err := row.Scan(
		&policy.ID,
		&title,
		&description,
		&policy.Filename,
		&policy.FileSize,
		&fileHash,
		&policy.ContentType,
		&policy.StorageKey,
		&policy.Language,
		&jurisdiction,
		&policyType,
		&status,
		&policy.CreatedAt,
		&policy.UpdatedAt,
		&archivedAt,
	)
	if err != nil {
		return nil, err
	}

	policy.Title = title.String
	policy.Description = description.String
	policy.FileHash = fileHash.String
	policy.Jurisdiction = jurisdiction.String
	policy.PolicyType = entities.PolicyType(policyType.String)
	policy.Status = entities.PolicyStatus(status)
	if archivedAt.Valid {
		t := archivedAt.Time
		policy.ArchivedAt = &t
	}
	return policy, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
