package manage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dickdavis/token-authority-sub001/errors"
	"github.com/dickdavis/token-authority-sub001/generates"
	"github.com/dickdavis/token-authority-sub001/models"
	"github.com/dickdavis/token-authority-sub001/security"
	"github.com/dickdavis/token-authority-sub001/store"
)

// TokenResult is the successful outcome of a code exchange or refresh.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope,omitempty"`
}

// IntrospectionResult is the RFC 7662 view of a presented token.
type IntrospectionResult struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  any    `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	JTI       string `json:"jti,omitempty"`
}

// Manager drives the grant and session lifecycle. It is safe for arbitrary
// concurrent use across server instances: the stores are the synchronization
// point, and every contested transition is a conditional update there.
type Manager struct {
	Clients  store.ClientStore
	Grants   store.GrantStore
	Sessions store.SessionStore

	// Revoked is an optional fast-path index of revoked jti values. The
	// session store remains authoritative; cache failures are logged and
	// otherwise ignored.
	Revoked store.RevokedJTICache

	Codec     *generates.JWTCodec
	Config    Config
	Validator *ClaimValidator
	Auditor   *security.Auditor
	Logger    *slog.Logger

	// Clock is the injectable time source every expiry comparison uses.
	Clock func() time.Time
}

// NewManager wires a manager with a real clock and a disabled auditor.
// Callers set Revoked and Auditor afterwards when those are in play.
func NewManager(cfg Config, clients store.ClientStore, grants store.GrantStore, sessions store.SessionStore, codec *generates.JWTCodec) *Manager {
	clock := time.Now
	return &Manager{
		Clients:   clients,
		Grants:    grants,
		Sessions:  sessions,
		Codec:     codec,
		Config:    cfg,
		Validator: &ClaimValidator{Config: cfg, Clock: clock},
		Auditor:   security.NewAuditor(nil, false),
		Logger:    slog.Default(),
		Clock:     clock,
	}
}

// SetClock replaces the time source for the manager and its claim validator.
// Intended for deterministic tests.
func (m *Manager) SetClock(clock func() time.Time) {
	m.Clock = clock
	m.Validator.Clock = clock
}

func (m *Manager) now() time.Time { return m.Clock() }

// AuthenticateClient resolves a client and checks its secret. Public clients
// are trusted on their identifier alone.
func (m *Manager) AuthenticateClient(ctx context.Context, clientID, secret string) (*models.Client, error) {
	client, err := m.Clients.GetByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			m.Auditor.LogAuthFailure(clientID, "unknown_client")
			return nil, errors.ErrInvalidClient
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if !client.AuthenticateSecret(secret) {
		m.Auditor.LogAuthFailure(clientID, "secret_mismatch")
		return nil, errors.ErrInvalidClient
	}
	return client, nil
}

// Authorize records user consent as a single-use grant and returns it. The
// caller redirects the user agent back with grant.Code.
func (m *Manager) Authorize(ctx context.Context, client *models.Client, userID, redirectURI, codeChallenge, codeChallengeMethod, scope string, resources []string) (*models.AuthorizationGrant, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user", errors.ErrInvalidRequest)
	}
	if !client.AllowsRedirectURI(redirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri is not registered for this client", errors.ErrInvalidRequest)
	}
	if codeChallenge == "" {
		return nil, fmt.Errorf("%w: code_challenge is required", errors.ErrInvalidRequest)
	}
	switch codeChallengeMethod {
	case models.CodeChallengeS256, "":
		codeChallengeMethod = models.CodeChallengeS256
	case models.CodeChallengePlain:
		if !m.Config.AllowPlainPKCE {
			return nil, fmt.Errorf("%w: plain code_challenge_method is not allowed", errors.ErrInvalidRequest)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported code_challenge_method %q", errors.ErrInvalidRequest, codeChallengeMethod)
	}

	scopes, err := models.ParseScopes(scope)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidScope, err)
	}
	for _, tok := range scopes.Tokens() {
		if !m.Config.scopeAllowed(tok) {
			return nil, fmt.Errorf("%w: scope %q is not recognized", errors.ErrInvalidScope, tok)
		}
	}
	if m.Config.RequireScope && scopes.IsEmpty() {
		return nil, fmt.Errorf("%w: a scope is required", errors.ErrInvalidScope)
	}

	resourceSet, err := models.ParseResources(resources)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrInvalidTarget, err)
	}
	for _, uri := range resourceSet.URIs() {
		if !m.Config.resourceAllowed(uri) {
			return nil, fmt.Errorf("%w: resource %q is not recognized", errors.ErrInvalidTarget, uri)
		}
	}
	if m.Config.RequireResource && resourceSet.IsEmpty() {
		return nil, fmt.Errorf("%w: a resource indicator is required", errors.ErrInvalidTarget)
	}

	grant := models.NewGrant(client, userID, redirectURI, codeChallenge, codeChallengeMethod, scopes, resourceSet, m.Config.GrantTTL, m.now())
	if err := m.Grants.Create(ctx, grant); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	return grant, nil
}

// ExchangeCode redeems an authorization code for a token pair. Redemption is
// single use: concurrent exchanges of the same code succeed at most once and
// every loser observes invalid_grant.
func (m *Manager) ExchangeCode(ctx context.Context, client *models.Client, req AccessTokenRequest) (*TokenResult, error) {
	if req.Code == "" || req.CodeVerifier == "" {
		return nil, fmt.Errorf("%w: code and code_verifier are required", errors.ErrInvalidRequest)
	}
	grant, err := m.Grants.GetByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.ErrInvalidGrant
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if grant.ClientID != client.ID {
		return nil, errors.ErrInvalidGrant
	}
	if grant.Redeemed || grant.ExpiredAt(m.now()) {
		return nil, errors.ErrInvalidGrant
	}
	if req.RedirectURI != grant.RedirectURI {
		return nil, fmt.Errorf("%w: redirect_uri mismatch", errors.ErrInvalidGrant)
	}
	if err := grant.VerifyChallenge(req.CodeVerifier); err != nil {
		return nil, err
	}

	scopes, err := negotiateScopes(m.Config, req.Scope, grant.GrantedScopes())
	if err != nil {
		return nil, err
	}
	resources, err := negotiateResources(m.Config, req.Resources, grant.GrantedResources())
	if err != nil {
		return nil, err
	}

	won, err := m.Grants.Redeem(ctx, grant.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if !won {
		return nil, errors.ErrInvalidGrant
	}

	session := models.NewSession(grant.ID, m.now())
	// The session row must be durable before any token referencing its jti
	// values is signed and handed out.
	if err := m.Sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	result, err := m.signPair(client, grant, session, scopes, resources)
	if err != nil {
		return nil, err
	}
	m.Auditor.LogTokenIssued(grant.UserID, client.ID, session.ID, result.Scope)
	return result, nil
}

// Refresh rotates a session: the presented refresh token's session moves to
// refreshed and a successor is created under the same grant, optionally
// narrowed against the originally granted scopes and resources. Any replay
// or client-identity anomaly revokes the lineage's active session and
// surfaces a RevokedSessionError.
func (m *Manager) Refresh(ctx context.Context, req RefreshTokenRequest) (*TokenResult, error) {
	if req.RefreshToken == "" {
		return nil, fmt.Errorf("%w: refresh_token is required", errors.ErrInvalidRequest)
	}
	claims, err := m.Codec.Decode(req.RefreshToken)
	if err != nil {
		return nil, errors.ErrInvalidGrant
	}

	sideEffect, claimErr := m.Validator.Validate(claims)
	if claimErr != nil && sideEffect == SideEffectNone {
		// jti fault; no session lookup is possible.
		return nil, errors.ErrInvalidGrant
	}

	session, err := m.Sessions.GetByRefreshJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errors.ErrInvalidGrant
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if session.RefreshJTI != claims.ID {
		return nil, fmt.Errorf("%w: session %s resolved for foreign jti", errors.ErrServerError, session.ID)
	}

	if claimErr != nil {
		m.applySideEffect(ctx, session, sideEffect, claimErr)
		return nil, errors.ErrInvalidGrant
	}

	grant, err := m.Grants.GetByID(ctx, session.GrantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}

	if session.Status != models.SessionCreated || req.ClientID != grant.ClientID {
		return nil, m.failReplay(ctx, grant, session)
	}

	client, err := m.Clients.GetByID(ctx, grant.ClientID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	scopes, err := negotiateScopes(m.Config, req.Scope, grant.GrantedScopes())
	if err != nil {
		return nil, err
	}
	resources, err := negotiateResources(m.Config, req.Resources, grant.GrantedResources())
	if err != nil {
		return nil, err
	}

	successor := models.NewSession(grant.ID, m.now())
	won, err := m.Sessions.Rotate(ctx, session.ID, successor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if !won {
		// Lost the rotation race; the token has effectively been replayed.
		return nil, m.failReplay(ctx, grant, session)
	}

	result, err := m.signPair(client, grant, successor, scopes, resources)
	if err != nil {
		return nil, err
	}
	m.Auditor.LogTokenRefreshed(grant.UserID, client.ID, session.ID, successor.ID)
	return result, nil
}

// ValidateAccessToken verifies a presented access token for resource-server
// consumption. Claim faults flip the owning session per the validator's
// classification before the error is returned.
func (m *Manager) ValidateAccessToken(ctx context.Context, tokenValue string) (*generates.TokenClaims, error) {
	claims, err := m.Codec.Decode(tokenValue)
	if err != nil {
		return nil, errors.ErrInvalidToken
	}

	if m.Revoked != nil && claims.ID != "" {
		revoked, err := m.Revoked.Contains(ctx, claims.ID)
		if err != nil {
			m.Logger.Warn("revoked-jti cache lookup failed", "error", err)
		} else if revoked {
			return nil, errors.ErrUnauthorizedToken
		}
	}

	sideEffect, claimErr := m.Validator.Validate(claims)
	if claimErr != nil && sideEffect == SideEffectNone {
		return nil, claimErr
	}

	session, err := m.Sessions.GetByAccessJTI(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			if claimErr != nil {
				return nil, claimErr
			}
			return nil, errors.ErrUnauthorizedToken
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}

	if claimErr != nil {
		m.applySideEffect(ctx, session, sideEffect, claimErr)
		return nil, claimErr
	}
	if session.Status != models.SessionCreated {
		return nil, errors.ErrUnauthorizedToken
	}
	return claims, nil
}

// Revoke invalidates the session owning the presented token, along with the
// lineage's active session when that differs. Unknown or undecodable tokens
// are silent no-ops per RFC 7009.
func (m *Manager) Revoke(ctx context.Context, tokenValue, tokenTypeHint string) error {
	claims, err := m.Codec.Decode(tokenValue)
	if err != nil || claims.ID == "" {
		return nil
	}
	session, err := m.lookupByEitherJTI(ctx, claims.ID, tokenTypeHint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	grant, err := m.Grants.GetByID(ctx, session.GrantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if _, err := m.revokeSelfAndActive(ctx, grant, session, "revocation_request"); err != nil {
		return err
	}
	return nil
}

// lookupByEitherJTI resolves a session by jti, preferring the hinted token
// type and falling back to the other.
func (m *Manager) lookupByEitherJTI(ctx context.Context, jti, hint string) (*models.Session, error) {
	first, second := m.Sessions.GetByAccessJTI, m.Sessions.GetByRefreshJTI
	if hint == "refresh_token" {
		first, second = second, first
	}
	session, err := first(ctx, jti)
	if errors.Is(err, store.ErrNotFound) {
		return second(ctx, jti)
	}
	return session, err
}

// Introspect reports whether a presented token is active, with its claims
// when it is. Introspection never mutates session state.
func (m *Manager) Introspect(ctx context.Context, tokenValue, tokenTypeHint string) (*IntrospectionResult, error) {
	inactive := &IntrospectionResult{Active: false}
	claims, err := m.Codec.Decode(tokenValue)
	if err != nil || claims.ID == "" {
		return inactive, nil
	}
	if _, err := m.Validator.Validate(claims); err != nil {
		return inactive, nil
	}
	session, err := m.lookupByEitherJTI(ctx, claims.ID, tokenTypeHint)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return inactive, nil
		}
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if session.Status != models.SessionCreated {
		return inactive, nil
	}
	result := &IntrospectionResult{
		Active:   true,
		Scope:    claims.Scope,
		ClientID: claims.ClientID,
		Subject:  claims.Subject,
		Issuer:   claims.Issuer,
		JTI:      claims.ID,
	}
	if len(claims.Audience) == 1 {
		result.Audience = claims.Audience[0]
	} else if len(claims.Audience) > 1 {
		result.Audience = []string(claims.Audience)
	}
	if claims.ExpiresAt != nil {
		result.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if claims.IssuedAt != nil {
		result.IssuedAt = claims.IssuedAt.Unix()
	}
	return result, nil
}

// failReplay handles refresh-token reuse. The lineage's active session (or
// the presented session when none is active) is revoked before the error is
// returned; the side effect completes even though the request fails.
func (m *Manager) failReplay(ctx context.Context, grant *models.AuthorizationGrant, session *models.Session) error {
	revoked, err := m.revokeSelfAndActive(ctx, grant, session, "replay_detected")
	if err != nil {
		return err
	}
	m.Auditor.LogReplayDetected(grant.UserID, grant.ClientID, session.ID, revoked)
	return &errors.RevokedSessionError{
		ClientID:           grant.ClientID,
		UserID:             grant.UserID,
		RefreshedSessionID: session.ID,
		RevokedSessionID:   revoked,
	}
}

// revokeSelfAndActive revokes the given session and the grant lineage's
// active session in one cascade. It returns the id of the active session
// that was revoked (the given session's own id when none was active).
func (m *Manager) revokeSelfAndActive(ctx context.Context, grant *models.AuthorizationGrant, session *models.Session, reason string) (string, error) {
	active, err := m.Sessions.ActiveForGrant(ctx, grant.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	if len(active) > 1 {
		// The lineage invariant guarantees at most one active session.
		m.Logger.Error("multiple active sessions for grant", "grant_id", grant.ID, "count", len(active))
		return "", fmt.Errorf("%w: grant %s has %d active sessions", errors.ErrServerError, grant.ID, len(active))
	}

	target := session
	if len(active) == 1 {
		target = active[0]
	}
	if err := m.Sessions.RevokeCascade(ctx, session.ID, target.ID); err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}
	m.cacheRevokedJTIs(ctx, session, target)
	m.Auditor.LogTokenRevoked(grant.UserID, grant.ClientID, session.ID, reason)
	if target.ID != session.ID {
		m.Auditor.LogTokenRevoked(grant.UserID, grant.ClientID, target.ID, reason)
	}
	return target.ID, nil
}

// applySideEffect performs the session transition a claim fault calls for.
// Side effects are best effort relative to the request outcome: the request
// already failed, but the transition must still be attempted.
func (m *Manager) applySideEffect(ctx context.Context, session *models.Session, effect SideEffect, cause error) {
	switch effect {
	case SideEffectRevoke:
		grant, err := m.Grants.GetByID(ctx, session.GrantID)
		if err != nil {
			m.Logger.Error("grant lookup during claim-fault revocation failed", "session_id", session.ID, "error", err)
			return
		}
		if _, err := m.revokeSelfAndActive(ctx, grant, session, "claim_validation_failed"); err != nil {
			m.Logger.Error("claim-fault revocation failed", "session_id", session.ID, "error", err)
		}
		m.Auditor.LogClaimFailure(grant.UserID, grant.ClientID, "integrity", cause.Error())
	case SideEffectExpire:
		if err := m.Sessions.MarkExpired(ctx, session.ID); err != nil {
			m.Logger.Error("marking session expired failed", "session_id", session.ID, "error", err)
		}
	case SideEffectNone:
	}
}

func (m *Manager) cacheRevokedJTIs(ctx context.Context, sessions ...*models.Session) {
	if m.Revoked == nil {
		return
	}
	for _, s := range sessions {
		for _, jti := range []string{s.AccessJTI, s.RefreshJTI} {
			if err := m.Revoked.Add(ctx, jti); err != nil {
				m.Logger.Warn("revoked-jti cache add failed", "jti", jti, "error", err)
			}
		}
	}
}

// signPair encodes the access and refresh JWTs for an already-persisted
// session and assembles the token response.
func (m *Manager) signPair(client *models.Client, grant *models.AuthorizationGrant, session *models.Session, scopes models.ScopeSet, resources models.ResourceSet) (*TokenResult, error) {
	now := m.now()
	audience := jwt.ClaimStrings(resources.URIs())
	if resources.IsEmpty() {
		audience = jwt.ClaimStrings{m.Config.DefaultAudience}
	}
	accessDur := m.Config.accessDuration(client.AccessTokenDuration)
	refreshDur := m.Config.refreshDuration(client.RefreshTokenDuration)

	base := jwt.RegisteredClaims{
		Issuer:   m.Config.Issuer,
		Subject:  grant.UserID,
		Audience: audience,
		IssuedAt: jwt.NewNumericDate(now),
	}

	accessClaims := &generates.TokenClaims{
		RegisteredClaims: base,
		ClientID:         client.ID,
		Scope:            scopes.String(),
	}
	accessClaims.ID = session.AccessJTI
	accessClaims.ExpiresAt = jwt.NewNumericDate(now.Add(accessDur))
	accessToken, err := m.Codec.Encode(accessClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}

	refreshClaims := &generates.TokenClaims{
		RegisteredClaims: base,
		ClientID:         client.ID,
		Scope:            scopes.String(),
	}
	refreshClaims.ID = session.RefreshJTI
	refreshClaims.ExpiresAt = jwt.NewNumericDate(now.Add(refreshDur))
	refreshToken, err := m.Codec.Encode(refreshClaims)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrServerError, err)
	}

	return &TokenResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(accessDur.Seconds()),
		Scope:        scopes.String(),
	}, nil
}
