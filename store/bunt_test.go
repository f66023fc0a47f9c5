package store

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/dickdavis/token-authority-sub001/models"
)

func newBunt(t *testing.T) *BuntStore {
	t.Helper()
	s, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newGrant(now time.Time) *models.AuthorizationGrant {
	client := models.NewPublicClient("client-1", []string{"https://app.example.com/cb"}, 0, 0)
	scopes, _ := models.ParseScopes("read")
	resources, _ := models.ParseResources([]string{"https://api.example.com"})
	sum := sha256.Sum256([]byte("verifier-1"))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return models.NewGrant(client, "user-1", "https://app.example.com/cb", challenge, models.CodeChallengeS256, scopes, resources, 5*time.Minute, now)
}

func TestBuntGrantRoundTrip(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	grant := newGrant(time.Now())

	if err := s.Grants().Create(ctx, grant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byID, err := s.Grants().GetByID(ctx, grant.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.Code != grant.Code || byID.UserID != "user-1" {
		t.Errorf("grant fields lost: %+v", byID)
	}
	if byID.CodeChallenge != grant.CodeChallenge {
		t.Errorf("code challenge lost on round trip: %q", byID.CodeChallenge)
	}

	byCode, err := s.Grants().GetByCode(ctx, grant.Code)
	if err != nil {
		t.Fatalf("GetByCode: %v", err)
	}
	if byCode.ID != grant.ID {
		t.Errorf("code lookup resolved wrong grant: %s", byCode.ID)
	}
	if err := byCode.VerifyChallenge("verifier-1"); err != nil {
		t.Errorf("stored challenge no longer verifies: %v", err)
	}

	if _, err := s.Grants().GetByCode(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("unknown code: got %v, want ErrNotFound", err)
	}
}

func TestBuntRedeemWinsOnce(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	grant := newGrant(time.Now())
	if err := s.Grants().Create(ctx, grant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	won, err := s.Grants().Redeem(ctx, grant.ID)
	if err != nil || !won {
		t.Fatalf("first redeem: won=%v err=%v", won, err)
	}
	won, err = s.Grants().Redeem(ctx, grant.ID)
	if err != nil {
		t.Fatalf("second redeem: %v", err)
	}
	if won {
		t.Error("second redeem must lose")
	}
}

func TestBuntRedeemConcurrent(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	grant := newGrant(time.Now())
	if err := s.Grants().Create(ctx, grant); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const attempts = 20
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.Grants().Redeem(ctx, grant.ID)
			if err != nil {
				t.Errorf("Redeem: %v", err)
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for won := range wins {
		if won {
			count++
		}
	}
	if count != 1 {
		t.Errorf("redemption won %d times, want exactly 1", count)
	}
}

func TestBuntSessionLookups(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	session := models.NewSession("grant-1", time.Now())

	if err := s.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	byAccess, err := s.Sessions().GetByAccessJTI(ctx, session.AccessJTI)
	if err != nil || byAccess.ID != session.ID {
		t.Fatalf("GetByAccessJTI: %+v err=%v", byAccess, err)
	}
	byRefresh, err := s.Sessions().GetByRefreshJTI(ctx, session.RefreshJTI)
	if err != nil || byRefresh.ID != session.ID {
		t.Fatalf("GetByRefreshJTI: %+v err=%v", byRefresh, err)
	}
	if _, err := s.Sessions().GetByAccessJTI(ctx, "ghost"); err != ErrNotFound {
		t.Errorf("unknown jti: got %v, want ErrNotFound", err)
	}
}

func TestBuntRotate(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	now := time.Now()
	session := models.NewSession("grant-1", now)
	if err := s.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	successor := models.NewSession("grant-1", now)
	won, err := s.Sessions().Rotate(ctx, session.ID, successor)
	if err != nil || !won {
		t.Fatalf("first rotate: won=%v err=%v", won, err)
	}

	rotated, err := s.Sessions().GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if rotated.Status != models.SessionRefreshed {
		t.Errorf("rotated session status = %s, want refreshed", rotated.Status)
	}

	stored, err := s.Sessions().GetByID(ctx, successor.ID)
	if err != nil {
		t.Fatalf("successor not persisted: %v", err)
	}
	if stored.Status != models.SessionCreated {
		t.Errorf("successor status = %s, want created", stored.Status)
	}

	// A second rotation of the same session loses and inserts nothing.
	again := models.NewSession("grant-1", now)
	won, err = s.Sessions().Rotate(ctx, session.ID, again)
	if err != nil {
		t.Fatalf("second rotate: %v", err)
	}
	if won {
		t.Error("second rotate must lose")
	}
	if _, err := s.Sessions().GetByID(ctx, again.ID); err != ErrNotFound {
		t.Errorf("losing rotation leaked its successor: %v", err)
	}
}

func TestBuntActiveForGrant(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	now := time.Now()

	first := models.NewSession("grant-1", now)
	if err := s.Sessions().Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	unrelated := models.NewSession("grant-2", now)
	if err := s.Sessions().Create(ctx, unrelated); err != nil {
		t.Fatalf("Create: %v", err)
	}

	active, err := s.Sessions().ActiveForGrant(ctx, "grant-1")
	if err != nil {
		t.Fatalf("ActiveForGrant: %v", err)
	}
	if len(active) != 1 || active[0].ID != first.ID {
		t.Fatalf("active = %+v, want just the first session", active)
	}

	successor := models.NewSession("grant-1", now)
	if _, err := s.Sessions().Rotate(ctx, first.ID, successor); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	active, err = s.Sessions().ActiveForGrant(ctx, "grant-1")
	if err != nil {
		t.Fatalf("ActiveForGrant: %v", err)
	}
	if len(active) != 1 || active[0].ID != successor.ID {
		t.Errorf("active after rotation = %+v, want just the successor", active)
	}
}

func TestBuntRevokeCascade(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	now := time.Now()

	first := models.NewSession("grant-1", now)
	second := models.NewSession("grant-1", now)
	for _, sess := range []*models.Session{first, second} {
		if err := s.Sessions().Create(ctx, sess); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	if err := s.Sessions().RevokeCascade(ctx, first.ID, second.ID, "ghost"); err != nil {
		t.Fatalf("RevokeCascade: %v", err)
	}

	for _, id := range []string{first.ID, second.ID} {
		sess, err := s.Sessions().GetByID(ctx, id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if sess.Status != models.SessionRevoked {
			t.Errorf("session %s status = %s, want revoked", id, sess.Status)
		}
	}
}

func TestBuntMarkExpired(t *testing.T) {
	s := newBunt(t)
	ctx := context.Background()
	session := models.NewSession("grant-1", time.Now())
	if err := s.Sessions().Create(ctx, session); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := s.Sessions().MarkExpired(ctx, session.ID); err != nil {
		t.Fatalf("MarkExpired: %v", err)
	}
	sess, _ := s.Sessions().GetByID(ctx, session.ID)
	if sess.Status != models.SessionExpired {
		t.Fatalf("status = %s, want expired", sess.Status)
	}

	// Terminal states stay put.
	if err := s.Sessions().RevokeCascade(ctx, session.ID); err != nil {
		t.Fatalf("RevokeCascade: %v", err)
	}
	sess, _ = s.Sessions().GetByID(ctx, session.ID)
	if sess.Status != models.SessionRevoked {
		t.Fatalf("revocation must absorb, got %s", sess.Status)
	}
	if err := s.Sessions().MarkExpired(ctx, session.ID); err != nil {
		t.Fatalf("MarkExpired on revoked: %v", err)
	}
	sess, _ = s.Sessions().GetByID(ctx, session.ID)
	if sess.Status != models.SessionRevoked {
		t.Errorf("revoked session reverted to %s", sess.Status)
	}
}
