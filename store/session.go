package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/dickdavis/token-authority-sub001/models"
)

// DBSessionStore persists token sessions in the primary database.
type DBSessionStore struct{ DB *gorm.DB }

func NewDBSessionStore(db *gorm.DB) *DBSessionStore { return &DBSessionStore{DB: db} }

func (s *DBSessionStore) Create(ctx context.Context, session *models.Session) error {
	return s.DB.WithContext(ctx).Create(session).Error
}

func (s *DBSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *DBSessionStore) GetByAccessJTI(ctx context.Context, jti string) (*models.Session, error) {
	return s.first(ctx, "access_jti = ?", jti)
}

func (s *DBSessionStore) GetByRefreshJTI(ctx context.Context, jti string) (*models.Session, error) {
	return s.first(ctx, "refresh_jti = ?", jti)
}

func (s *DBSessionStore) first(ctx context.Context, query string, arg string) (*models.Session, error) {
	var sess models.Session
	if err := s.DB.WithContext(ctx).First(&sess, query, arg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

func (s *DBSessionStore) ActiveForGrant(ctx context.Context, grantID string) ([]*models.Session, error) {
	var out []*models.Session
	err := s.DB.WithContext(ctx).
		Where("grant_id = ? AND status = ?", grantID, models.SessionCreated).
		Find(&out).Error
	return out, err
}

// Rotate moves the session created->refreshed and inserts its successor in
// one transaction. The conditional update makes two concurrent refreshes of
// the same session resolve to exactly one winner; the loser sees false and
// takes the replay path.
func (s *DBSessionStore) Rotate(ctx context.Context, sessionID string, successor *models.Session) (bool, error) {
	won := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", sessionID, models.SessionCreated).
			Updates(map[string]interface{}{"status": models.SessionRefreshed, "updated_at": time.Now().UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return nil
		}
		if err := tx.Create(successor).Error; err != nil {
			return err
		}
		won = true
		return nil
	})
	return won, err
}

// MarkExpired transitions created->expired. Terminal sessions are untouched;
// expiry never overwrites a revocation.
func (s *DBSessionStore) MarkExpired(ctx context.Context, sessionID string) error {
	return s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionCreated).
		Updates(map[string]interface{}{"status": models.SessionExpired, "updated_at": time.Now().UTC()}).Error
}

// RevokeCascade marks all given sessions revoked in a single transaction.
// revoked is absorbing, so any non-revoked status is overwritten.
func (s *DBSessionStore) RevokeCascade(ctx context.Context, sessionIDs ...string) error {
	if len(sessionIDs) == 0 {
		return nil
	}
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&models.Session{}).
			Where("id IN ? AND status <> ?", sessionIDs, models.SessionRevoked).
			Updates(map[string]interface{}{"status": models.SessionRevoked, "updated_at": time.Now().UTC()}).Error
	})
}
