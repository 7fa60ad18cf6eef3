package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"newstrader/src/database"
	"newstrader/src/model"
)

// SecretRepository stores sealed credentials. It never sees plaintext.
type SecretRepository struct {
	db *gorm.DB
}

func NewSecretRepository() *SecretRepository {
	return &SecretRepository{db: database.MainDB}
}

func (r *SecretRepository) WithDB(db *gorm.DB) *SecretRepository {
	return &SecretRepository{db: db}
}

// FindByRef returns (nil, nil) if no secret is stored under ref.
func (r *SecretRepository) FindByRef(ctx context.Context, ref string) (*model.EncryptedSecret, error) {
	var s model.EncryptedSecret
	err := r.db.WithContext(ctx).First(&s, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SecretRepository) Upsert(ctx context.Context, secret *model.EncryptedSecret) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ref"}},
			DoUpdates: clause.AssignmentColumns([]string{"nonce", "ciphertext", "updated_at"}),
		}).
		Create(secret).Error
}
