package manage

import (
	"fmt"

	"github.com/dickdavis/token-authority-sub001/errors"
	"github.com/dickdavis/token-authority-sub001/models"
)

// AccessTokenRequest carries the token-endpoint parameters of an
// authorization_code exchange.
type AccessTokenRequest struct {
	Code         string
	CodeVerifier string
	RedirectURI  string
	Resources    []string
	Scope        string
}

// RefreshTokenRequest carries the token-endpoint parameters of a
// refresh_token exchange.
type RefreshTokenRequest struct {
	RefreshToken string
	ClientID     string
	Resources    []string
	Scope        string
}

// negotiateScopes resolves the effective scope set for an exchange or
// refresh. Every requested token must be well formed, allowlisted, and a
// member of the originally granted set; an empty request falls back to the
// full granted set. The granted set is always the one approved at consent
// time, so a client that narrowed on an earlier refresh can never re-widen.
func negotiateScopes(cfg Config, requested string, granted models.ScopeSet) (models.ScopeSet, error) {
	scopes, err := models.ParseScopes(requested)
	if err != nil {
		return models.ScopeSet{}, fmt.Errorf("%w: %v", errors.ErrInvalidScope, err)
	}
	if scopes.IsEmpty() {
		scopes = granted
	}
	for _, tok := range scopes.Tokens() {
		if !cfg.scopeAllowed(tok) {
			return models.ScopeSet{}, fmt.Errorf("%w: scope %q is not recognized", errors.ErrInvalidScope, tok)
		}
	}
	if !scopes.SubsetOf(granted) {
		return models.ScopeSet{}, fmt.Errorf("%w: requested scope exceeds the granted scope", errors.ErrInvalidScope)
	}
	if cfg.RequireScope && scopes.IsEmpty() {
		return models.ScopeSet{}, fmt.Errorf("%w: a scope is required", errors.ErrInvalidScope)
	}
	return scopes, nil
}

// negotiateResources resolves the effective resource-indicator set under the
// same narrowing rules as negotiateScopes.
func negotiateResources(cfg Config, requested []string, granted models.ResourceSet) (models.ResourceSet, error) {
	resources, err := models.ParseResources(requested)
	if err != nil {
		return models.ResourceSet{}, fmt.Errorf("%w: %v", errors.ErrInvalidTarget, err)
	}
	if resources.IsEmpty() {
		resources = granted
	}
	for _, uri := range resources.URIs() {
		if !cfg.resourceAllowed(uri) {
			return models.ResourceSet{}, fmt.Errorf("%w: resource %q is not recognized", errors.ErrInvalidTarget, uri)
		}
	}
	if !resources.SubsetOf(granted) {
		return models.ResourceSet{}, fmt.Errorf("%w: requested resources exceed the granted resources", errors.ErrInvalidTarget)
	}
	if cfg.RequireResource && resources.IsEmpty() {
		return models.ResourceSet{}, fmt.Errorf("%w: a resource indicator is required", errors.ErrInvalidTarget)
	}
	return resources, nil
}
