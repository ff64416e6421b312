package entities

import (
	"path"
	"strings"
	"time"

	apperrors "github.com/civiclens/civiclens/backend/pkg/errors"
	"github.com/google/uuid"
)

// PolicyStatus is the coarse, denormalized status of a policy document.
// It is a projection of the processing log, see ProjectStatus
type PolicyStatus string

const (
	PolicyStatusUploaded   PolicyStatus = "uploaded"
	PolicyStatusProcessing PolicyStatus = "processing"
	PolicyStatusAnalyzed   PolicyStatus = "analyzed"
	PolicyStatusFailed     PolicyStatus = "failed"
	PolicyStatusArchived   PolicyStatus = "archived"
)

// Valid reports whether s is a known status
func (s PolicyStatus) Valid() bool {
	switch s {
	case PolicyStatusUploaded, PolicyStatusProcessing, PolicyStatusAnalyzed, PolicyStatusFailed, PolicyStatusArchived:
		return true
	}
	return false
}

// PolicyType classifies a policy by sector
type PolicyType string

const (
	PolicyTypeHealthcare     PolicyType = "healthcare"
	PolicyTypeEducation      PolicyType = "education"
	PolicyTypeAgriculture    PolicyType = "agriculture"
	PolicyTypeEmployment     PolicyType = "employment"
	PolicyTypeHousing        PolicyType = "housing"
	PolicyTypeSocialWelfare  PolicyType = "social_welfare"
	PolicyTypeInfrastructure PolicyType = "infrastructure"
	PolicyTypeEnvironment    PolicyType = "environment"
	PolicyTypeFinance        PolicyType = "finance"
	PolicyTypeOther          PolicyType = "other"
)

var policyTypes = map[PolicyType]struct{}{
	PolicyTypeHealthcare:     {},
	PolicyTypeEducation:      {},
	PolicyTypeAgriculture:    {},
	PolicyTypeEmployment:     {},
	PolicyTypeHousing:        {},
	PolicyTypeSocialWelfare:  {},
	PolicyTypeInfrastructure: {},
	PolicyTypeEnvironment:    {},
	PolicyTypeFinance:        {},
	PolicyTypeOther:          {},
}

// Valid reports whether t is a known policy type. The empty type is valid
// because policy type is optional
func (t PolicyType) Valid() bool {
	if t == "" {
		return true
	}
	_, ok := policyTypes[t]
	return ok
}

const (
	policyIDPrefix = "pol_"
	policyIDLength = 12

	DefaultLanguage = "en"
)

// PolicyDocument is one uploaded policy file and its metadata
type PolicyDocument struct {
	ID           string       `json:"policy_id" db:"id"`
	Title        string       `json:"title,omitempty" db:"title"`
	Description  string       `json:"description,omitempty" db:"description"`
	Filename     string       `json:"filename" db:"filename"`
	FileSize     int64        `json:"file_size" db:"file_size"`
	FileHash     string       `json:"file_hash" db:"file_hash"`
	ContentType  string       `json:"content_type" db:"content_type"`
	StorageKey   string       `json:"-" db:"storage_key"`
	Language     string       `json:"language" db:"language"`
	Jurisdiction string       `json:"jurisdiction,omitempty" db:"jurisdiction"`
	PolicyType   PolicyType   `json:"policy_type,omitempty" db:"policy_type"`
	Status       PolicyStatus `json:"status" db:"status"`
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
	ArchivedAt   *time.Time   `json:"archived_at,omitempty" db:"archived_at"`
}

// NewPolicyID returns a fresh identifier of the form pol_<12 hex chars>
func NewPolicyID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return policyIDPrefix + raw[:policyIDLength]
}

// PolicyStorageKey builds the blob key of an uploaded policy file. Only the
// base name of filename is kept
func PolicyStorageKey(policyID, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		name = "document"
	}
	return policyID + "/" + name
}

// IsArchived reports whether the policy has been archived
func (p *PolicyDocument) IsArchived() bool {
	return p.ArchivedAt != nil
}

// Validate checks the metadata every stored policy must carry
func (p *PolicyDocument) Validate() error {
	if p == nil {
		return apperrors.NewValidationError("policy is required")
	}
	if !strings.HasPrefix(p.ID, policyIDPrefix) {
		return apperrors.NewValidationError("policy id must start with " + policyIDPrefix)
	}
	if strings.TrimSpace(p.Filename) == "" {
		return apperrors.NewValidationError("filename is required")
	}
	if p.FileSize <= 0 {
		return apperrors.NewValidationError("file size must be greater than zero")
	}
	if strings.TrimSpace(p.ContentType) == "" {
		return apperrors.NewValidationError("content type is required")
	}
	if !p.PolicyType.Valid() {
		return apperrors.NewValidationError("unknown policy type: " + string(p.PolicyType))
	}
	if p.Status != "" && !p.Status.Valid() {
		return apperrors.NewValidationError("unknown policy status: " + string(p.Status))
	}
	return nil
}
