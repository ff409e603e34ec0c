package keydirectory

import (
	"context"

	"gorm.io/gorm"

	apperrors "brokle/pkg/errors"
)

// ProjectAPIKey is the GORM model backing the metadata store's key table,
// following the teacher's repository-pattern convention of a thin model type
// plus a repository wrapping *gorm.DB.
type ProjectAPIKey struct {
	ID                    uint   `gorm:"primaryKey"`
	ProjectID             string `gorm:"column:project_id;index"`
	PasswordVerifierHash  string `gorm:"column:password_verifier_hash"`
	Revoked               bool   `gorm:"column:revoked;default:false"`
}

func (ProjectAPIKey) TableName() string { return "project_api_keys" }

// GormMetadataStore implements keydirectory.MetadataStore against Postgres.
type GormMetadataStore struct {
	db *gorm.DB
}

func NewGormMetadataStore(db *gorm.DB) *GormMetadataStore {
	return &GormMetadataStore{db: db}
}

func (s *GormMetadataStore) LookupAllProjectKeys(ctx context.Context) ([]ProjectKeyRecord, error) {
	var rows []ProjectAPIKey
	if err := s.db.WithContext(ctx).Where("revoked = ?", false).Find(&rows).Error; err != nil {
		return nil, apperrors.NewUnavailableError("metadata store query failed", 5, err)
	}

	out := make([]ProjectKeyRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, ProjectKeyRecord{ProjectID: r.ProjectID, PasswordVerifierHash: r.PasswordVerifierHash})
	}
	return out, nil
}
