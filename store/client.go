package store

import (
	"context"
	"errors"
	"sync"

	"gorm.io/gorm"

	"github.com/dickdavis/token-authority-sub001/models"
)

// NewClientStore create client store (memory)
func NewClientStore() *MemoryClientStore {
	return &MemoryClientStore{
		data: make(map[string]*models.Client),
	}
}

// MemoryClientStore client information store (in-memory)
type MemoryClientStore struct {
	sync.RWMutex
	data map[string]*models.Client
}

// GetByID according to the ID for the client information
func (cs *MemoryClientStore) GetByID(ctx context.Context, id string) (*models.Client, error) {
	cs.RLock()
	defer cs.RUnlock()

	if c, ok := cs.data[id]; ok {
		return c, nil
	}
	return nil, ErrNotFound
}

// Set set client information
func (cs *MemoryClientStore) Set(cli *models.Client) (err error) {
	cs.Lock()
	defer cs.Unlock()

	cs.data[cli.ID] = cli
	return
}

// --- Persistent client store ---

type DBClientStore struct{ DB *gorm.DB }

func NewDBClientStore(db *gorm.DB) *DBClientStore { return &DBClientStore{DB: db} }

// Upsert creates or updates a client registration.
func (s *DBClientStore) Upsert(ctx context.Context, c *models.Client) error {
	return s.DB.WithContext(ctx).Save(c).Error
}

// GetByID implements ClientStore backed by DB.
func (s *DBClientStore) GetByID(ctx context.Context, id string) (*models.Client, error) {
	var c models.Client
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// List returns a page of clients ordered by id.
func (s *DBClientStore) List(ctx context.Context, offset, limit int) ([]models.Client, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	var out []models.Client
	err := s.DB.WithContext(ctx).Order("id").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// Delete removes a client by id.
func (s *DBClientStore) Delete(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Delete(&models.Client{}, "id = ?", id).Error
}
