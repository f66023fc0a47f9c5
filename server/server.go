// Package server exposes the token authority over HTTP: the authorize, token,
// revocation, and introspection endpoints plus bearer-token middleware for
// protected routes.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dickdavis/token-authority-sub001/errors"
	"github.com/dickdavis/token-authority-sub001/manage"
)

// UserAuthorizationHandler resolves the authenticated end user for an
// authorize request. Returning an error denies the request; the surrounding
// application owns login and consent UI.
type UserAuthorizationHandler func(c *gin.Context) (userID string, err error)

// Server provides the authorization server's HTTP surface.
type Server struct {
	Manager *manage.Manager
	Logger  *slog.Logger

	UserAuthorizationHandler UserAuthorizationHandler
}

// NewServer create authorization server
func NewServer(manager *manage.Manager) *Server {
	return &Server{
		Manager: manager,
		Logger:  slog.Default(),
		UserAuthorizationHandler: func(c *gin.Context) (string, error) {
			return "", errors.ErrUnauthorizedClient
		},
	}
}

// Routes registers the OAuth endpoints on a gin engine.
func (s *Server) Routes(engine *gin.Engine) {
	engine.GET("/oauth/authorize", s.HandleAuthorizeGin)
	engine.POST("/oauth/authorize", s.HandleAuthorizeGin)
	engine.POST("/oauth/token", s.HandleTokenGin)
	engine.POST("/oauth/revoke", s.HandleRevokeGin)
	engine.POST("/oauth/introspect", s.HandleIntrospectGin)
}

// writeError maps an engine error onto the stable OAuth error body. Replay
// detection is audited internally but surfaces as a generic invalid_grant.
func (s *Server) writeError(c *gin.Context, err error) {
	resp := errors.ToResponse(err)
	if resp.Status >= http.StatusInternalServerError {
		s.Logger.Error("token endpoint failure", "error", err)
	}
	c.Header("Cache-Control", "no-store")
	c.Header("Pragma", "no-cache")
	c.JSON(resp.Status, resp)
}
