package server

import (
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/dickdavis/token-authority-sub001/errors"
	"github.com/dickdavis/token-authority-sub001/manage"
)

// clientCredentials extracts client id and secret from HTTP Basic auth or,
// failing that, from the form body.
func clientCredentials(c *gin.Context) (string, string) {
	if id, secret, ok := c.Request.BasicAuth(); ok {
		return id, secret
	}
	return c.PostForm("client_id"), c.PostForm("client_secret")
}

// HandleTokenGin dispatches a token request by grant type.
// POST /oauth/token
// @Summary Exchange an authorization code or refresh token for a token pair
// @Tags OAuth2.0
// @Accept application/x-www-form-urlencoded
// @Produce json
// @Router /oauth/token [post]
func (s *Server) HandleTokenGin(c *gin.Context) {
	ctx := c.Request.Context()
	clientID, clientSecret := clientCredentials(c)

	switch c.PostForm("grant_type") {
	case "authorization_code":
		client, err := s.Manager.AuthenticateClient(ctx, clientID, clientSecret)
		if err != nil {
			s.writeError(c, err)
			return
		}
		result, err := s.Manager.ExchangeCode(ctx, client, manage.AccessTokenRequest{
			Code:         c.PostForm("code"),
			CodeVerifier: c.PostForm("code_verifier"),
			RedirectURI:  c.PostForm("redirect_uri"),
			Resources:    c.PostFormArray("resource"),
			Scope:        c.PostForm("scope"),
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		s.writeToken(c, result)

	case "refresh_token":
		if clientSecret != "" {
			if _, err := s.Manager.AuthenticateClient(ctx, clientID, clientSecret); err != nil {
				s.writeError(c, err)
				return
			}
		}
		result, err := s.Manager.Refresh(ctx, manage.RefreshTokenRequest{
			RefreshToken: c.PostForm("refresh_token"),
			ClientID:     clientID,
			Resources:    c.PostFormArray("resource"),
			Scope:        c.PostForm("scope"),
		})
		if err != nil {
			s.writeError(c, err)
			return
		}
		s.writeToken(c, result)

	default:
		s.writeError(c, errors.ErrUnsupportedGrantType)
	}
}

func (s *Server) writeToken(c *gin.Context, result *manage.TokenResult) {
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(http.StatusOK, result)
}

// HandleRevokeGin revokes the session behind a presented token.
// POST /oauth/revoke
// @Summary Revoke an access or refresh token
// @Description Unknown tokens are silently accepted per RFC 7009.
// @Tags OAuth2.0
// @Accept application/x-www-form-urlencoded
// @Router /oauth/revoke [post]
func (s *Server) HandleRevokeGin(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		s.writeError(c, errors.ErrInvalidRequest)
		return
	}
	if err := s.Manager.Revoke(c.Request.Context(), token, c.PostForm("token_type_hint")); err != nil {
		s.writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

// HandleIntrospectGin reports whether a presented token is active.
// POST /oauth/introspect
// @Summary Introspect a token per RFC 7662
// @Tags OAuth2.0
// @Accept application/x-www-form-urlencoded
// @Produce json
// @Router /oauth/introspect [post]
func (s *Server) HandleIntrospectGin(c *gin.Context) {
	token := c.PostForm("token")
	if token == "" {
		s.writeError(c, errors.ErrInvalidRequest)
		return
	}
	result, err := s.Manager.Introspect(c.Request.Context(), token, c.PostForm("token_type_hint"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// HandleAuthorizeGin runs the authorization-code front channel: it resolves
// the authenticated user, records consent as a grant, and redirects back to
// the client with the code.
// GET/POST /oauth/authorize
// @Summary Issue a single-use authorization code
// @Tags OAuth2.0
// @Router /oauth/authorize [get]
func (s *Server) HandleAuthorizeGin(c *gin.Context) {
	ctx := c.Request.Context()
	query := func(key string) string {
		if v := c.Query(key); v != "" {
			return v
		}
		return c.PostForm(key)
	}

	if rt := query("response_type"); rt != "code" {
		s.writeError(c, errors.ErrUnsupportedGrantType)
		return
	}
	client, err := s.Manager.Clients.GetByID(ctx, query("client_id"))
	if err != nil {
		s.writeError(c, errors.ErrInvalidClient)
		return
	}
	redirectURI := query("redirect_uri")

	userID, err := s.UserAuthorizationHandler(c)
	if err != nil {
		s.redirectError(c, client.AllowsRedirectURI(redirectURI), redirectURI, query("state"), err)
		return
	}

	resources := c.QueryArray("resource")
	if len(resources) == 0 {
		resources = c.PostFormArray("resource")
	}
	grant, err := s.Manager.Authorize(ctx, client, userID, redirectURI,
		query("code_challenge"), query("code_challenge_method"), query("scope"), resources)
	if err != nil {
		s.redirectError(c, client.AllowsRedirectURI(redirectURI), redirectURI, query("state"), err)
		return
	}

	loc, _ := url.Parse(redirectURI)
	q := loc.Query()
	q.Set("code", grant.Code)
	if state := query("state"); state != "" {
		q.Set("state", state)
	}
	loc.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, loc.String())
}

// redirectError reports an authorize failure to the client via the redirect
// URI when it is registered, otherwise directly in the response. Never
// redirect errors to an unregistered URI.
func (s *Server) redirectError(c *gin.Context, redirectOK bool, redirectURI, state string, err error) {
	if !redirectOK {
		s.writeError(c, err)
		return
	}
	resp := errors.ToResponse(err)
	loc, parseErr := url.Parse(redirectURI)
	if parseErr != nil {
		s.writeError(c, err)
		return
	}
	q := loc.Query()
	q.Set("error", resp.Error)
	q.Set("error_description", resp.Description)
	if state != "" {
		q.Set("state", state)
	}
	loc.RawQuery = q.Encode()
	c.Redirect(http.StatusFound, loc.String())
}
