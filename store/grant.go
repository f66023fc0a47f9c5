package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/dickdavis/token-authority-sub001/models"
)

// DBGrantStore persists authorization grants in the primary database.
type DBGrantStore struct{ DB *gorm.DB }

func NewDBGrantStore(db *gorm.DB) *DBGrantStore { return &DBGrantStore{DB: db} }

func (s *DBGrantStore) Create(ctx context.Context, grant *models.AuthorizationGrant) error {
	return s.DB.WithContext(ctx).Create(grant).Error
}

func (s *DBGrantStore) GetByID(ctx context.Context, id string) (*models.AuthorizationGrant, error) {
	var g models.AuthorizationGrant
	if err := s.DB.WithContext(ctx).First(&g, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (s *DBGrantStore) GetByCode(ctx context.Context, code string) (*models.AuthorizationGrant, error) {
	var g models.AuthorizationGrant
	if err := s.DB.WithContext(ctx).First(&g, "public_code = ?", code).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// Redeem performs the single-use compare-and-set. The conditional update is
// the linearization point for concurrent redemption attempts: RowsAffected
// is 1 for exactly one caller regardless of how many server instances race.
func (s *DBGrantStore) Redeem(ctx context.Context, id string) (bool, error) {
	res := s.DB.WithContext(ctx).
		Model(&models.AuthorizationGrant{}).
		Where("id = ? AND redeemed = ?", id, false).
		Update("redeemed", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
