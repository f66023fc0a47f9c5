package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/dickdavis/token-authority-sub001/models"
)

// BuntStore backs GrantStore and SessionStore with a single buntdb database.
// Transactions in buntdb are serializable, which gives the redemption and
// rotation compare-and-sets for free; authorization-code lookups carry a
// native TTL so expired codes vanish without a sweeper. Suitable for
// standalone single-process deployments and tests.
type BuntStore struct {
	db *buntdb.DB
}

// NewMemoryStore create a store instance based on memory
func NewMemoryStore() (*BuntStore, error) {
	return NewFileStore(":memory:")
}

// NewFileStore create a store instance based on file
func NewFileStore(filename string) (*BuntStore, error) {
	db, err := buntdb.Open(filename)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

// Grants returns the grant-store view of the database.
func (s *BuntStore) Grants() *BuntGrantStore { return &BuntGrantStore{db: s.db} }

// Sessions returns the session-store view of the database.
func (s *BuntStore) Sessions() *BuntSessionStore { return &BuntSessionStore{db: s.db} }

// Close releases the underlying database.
func (s *BuntStore) Close() error { return s.db.Close() }

func grantKey(id string) string            { return "grant:id:" + id }
func grantCodeKey(code string) string      { return "grant:code:" + code }
func sessionKey(id string) string          { return "session:id:" + id }
func accessJTIKey(jti string) string       { return "session:access:" + jti }
func refreshJTIKey(jti string) string      { return "session:refresh:" + jti }
func grantIndexKey(gid, sid string) string { return "session:grant:" + gid + ":" + sid }

// BuntGrantStore implements GrantStore on buntdb.
type BuntGrantStore struct {
	db *buntdb.DB
}

func (s *BuntGrantStore) Create(ctx context.Context, grant *models.AuthorizationGrant) error {
	jv, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		if _, _, err := tx.Set(grantKey(grant.ID), string(jv), nil); err != nil {
			return err
		}
		// Only the code lookup expires; the grant record must outlive its
		// code because every refresh re-checks the originally approved sets.
		opts := &buntdb.SetOptions{Expires: true, TTL: time.Until(grant.ExpiresAt)}
		if opts.TTL <= 0 {
			opts = nil
		}
		_, _, err := tx.Set(grantCodeKey(grant.Code), grant.ID, opts)
		return err
	})
}

func (s *BuntGrantStore) GetByID(ctx context.Context, id string) (*models.AuthorizationGrant, error) {
	var g models.AuthorizationGrant
	err := s.db.View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(grantKey(id))
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(raw), &g)
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

func (s *BuntGrantStore) GetByCode(ctx context.Context, code string) (*models.AuthorizationGrant, error) {
	var id string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(grantCodeKey(code))
		if err != nil {
			return err
		}
		id = v
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.GetByID(ctx, id)
}

func (s *BuntGrantStore) Redeem(ctx context.Context, id string) (bool, error) {
	won := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(grantKey(id))
		if err != nil {
			return err
		}
		var g models.AuthorizationGrant
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			return err
		}
		if g.Redeemed {
			return nil
		}
		g.Redeemed = true
		jv, err := json.Marshal(&g)
		if err != nil {
			return err
		}
		if _, _, err := tx.Set(grantKey(id), string(jv), nil); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return won, nil
}

// BuntSessionStore implements SessionStore on buntdb.
type BuntSessionStore struct {
	db *buntdb.DB
}

func putSession(tx *buntdb.Tx, session *models.Session) error {
	jv, err := json.Marshal(session)
	if err != nil {
		return err
	}
	if _, _, err := tx.Set(sessionKey(session.ID), string(jv), nil); err != nil {
		return err
	}
	if _, _, err := tx.Set(accessJTIKey(session.AccessJTI), session.ID, nil); err != nil {
		return err
	}
	if _, _, err := tx.Set(refreshJTIKey(session.RefreshJTI), session.ID, nil); err != nil {
		return err
	}
	_, _, err = tx.Set(grantIndexKey(session.GrantID, session.ID), session.ID, nil)
	return err
}

func getSession(tx *buntdb.Tx, id string) (*models.Session, error) {
	raw, err := tx.Get(sessionKey(id))
	if err != nil {
		return nil, err
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BuntSessionStore) Create(ctx context.Context, session *models.Session) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return putSession(tx, session)
	})
}

func (s *BuntSessionStore) GetByID(ctx context.Context, id string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.View(func(tx *buntdb.Tx) error {
		var err error
		sess, err = getSession(tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *BuntSessionStore) getByIndex(key string) (*models.Session, error) {
	var sess *models.Session
	err := s.db.View(func(tx *buntdb.Tx) error {
		id, err := tx.Get(key)
		if err != nil {
			return err
		}
		sess, err = getSession(tx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *BuntSessionStore) GetByAccessJTI(ctx context.Context, jti string) (*models.Session, error) {
	return s.getByIndex(accessJTIKey(jti))
}

func (s *BuntSessionStore) GetByRefreshJTI(ctx context.Context, jti string) (*models.Session, error) {
	return s.getByIndex(refreshJTIKey(jti))
}

func (s *BuntSessionStore) ActiveForGrant(ctx context.Context, grantID string) ([]*models.Session, error) {
	var ids []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("session:grant:"+grantID+":*", func(key, value string) bool {
			ids = append(ids, value)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	var out []*models.Session
	for _, id := range ids {
		sess, err := s.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if sess.Status == models.SessionCreated {
			out = append(out, sess)
		}
	}
	return out, nil
}

func (s *BuntSessionStore) Rotate(ctx context.Context, sessionID string, successor *models.Session) (bool, error) {
	won := false
	err := s.db.Update(func(tx *buntdb.Tx) error {
		sess, err := getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != models.SessionCreated {
			return nil
		}
		sess.Status = models.SessionRefreshed
		sess.UpdatedAt = time.Now().UTC()
		if err := putSession(tx, sess); err != nil {
			return err
		}
		if err := putSession(tx, successor); err != nil {
			return err
		}
		won = true
		return nil
	})
	if err != nil {
		if errors.Is(err, buntdb.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return won, nil
}

func (s *BuntSessionStore) MarkExpired(ctx context.Context, sessionID string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		sess, err := getSession(tx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status != models.SessionCreated {
			return nil
		}
		sess.Status = models.SessionExpired
		sess.UpdatedAt = time.Now().UTC()
		return putSession(tx, sess)
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntSessionStore) RevokeCascade(ctx context.Context, sessionIDs ...string) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, id := range sessionIDs {
			sess, err := getSession(tx, id)
			if err != nil {
				if errors.Is(err, buntdb.ErrNotFound) {
					continue
				}
				return err
			}
			if sess.Status == models.SessionRevoked {
				continue
			}
			sess.Status = models.SessionRevoked
			sess.UpdatedAt = time.Now().UTC()
			if err := putSession(tx, sess); err != nil {
				return err
			}
		}
		return nil
	})
}
