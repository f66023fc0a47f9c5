package server

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gavv/httpexpect/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dickdavis/token-authority-sub001/generates"
	"github.com/dickdavis/token-authority-sub001/manage"
	"github.com/dickdavis/token-authority-sub001/models"
	"github.com/dickdavis/token-authority-sub001/store"
)

const (
	testClientID     = "client-1"
	testClientSecret = "s3cret"
	testRedirectURI  = "https://app.example.com/callback"
	testResource     = "https://api.example.com"
	testVerifier     = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
)

func newTestServer(t *testing.T) (*httptest.Server, *manage.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := manage.DefaultConfig()
	cfg.Issuer = "https://issuer.example.com"
	cfg.DefaultAudience = "https://issuer.example.com"
	cfg.ScopeAllowlist = []string{"read", "write"}
	cfg.ResourceAllowlist = []string{testResource}

	bunt, err := store.NewMemoryStore()
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { bunt.Close() })

	clients := store.NewClientStore()
	client, err := models.NewConfidentialClient(testClientID, testClientSecret, []string{testRedirectURI}, 0, 0)
	if err != nil {
		t.Fatalf("NewConfidentialClient: %v", err)
	}
	clients.Set(client)

	codec := generates.NewJWTCodec("test-kid", []byte("00000000"), jwt.SigningMethodHS256)
	manager := manage.NewManager(cfg, clients, bunt.Grants(), bunt.Sessions(), codec)

	srv := NewServer(manager)
	srv.UserAuthorizationHandler = func(c *gin.Context) (string, error) {
		return "user-1", nil
	}

	engine := gin.New()
	srv.Routes(engine)
	engine.GET("/protected", srv.TokenMiddleware(), srv.RequireScope("read"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetString("user_id")})
	})

	tsrv := httptest.NewServer(engine)
	t.Cleanup(tsrv.Close)
	return tsrv, manager
}

func expecter(t *testing.T, tsrv *httptest.Server) *httpexpect.Expect {
	return httpexpect.WithConfig(httpexpect.Config{
		TestName: t.Name(),
		BaseURL:  tsrv.URL,
		Reporter: httpexpect.NewAssertReporter(t),
		Client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	})
}

func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// authorizeCode drives the front channel and returns the issued code.
func authorizeCode(t *testing.T, e *httpexpect.Expect) string {
	t.Helper()
	location := e.GET("/oauth/authorize").
		WithQuery("response_type", "code").
		WithQuery("client_id", testClientID).
		WithQuery("redirect_uri", testRedirectURI).
		WithQuery("code_challenge", s256Challenge(testVerifier)).
		WithQuery("code_challenge_method", "S256").
		WithQuery("scope", "read write").
		WithQuery("resource", testResource).
		WithQuery("state", "xyzzy").
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()

	loc, err := url.Parse(location)
	if err != nil {
		t.Fatalf("parsing redirect location: %v", err)
	}
	if got := loc.Query().Get("state"); got != "xyzzy" {
		t.Fatalf("state round-trip failed: %q", got)
	}
	code := loc.Query().Get("code")
	if code == "" {
		t.Fatalf("no code in redirect: %s", location)
	}
	return code
}

func exchangeCode(e *httpexpect.Expect, code string) *httpexpect.Object {
	return e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "authorization_code").
		WithFormField("code", code).
		WithFormField("code_verifier", testVerifier).
		WithFormField("redirect_uri", testRedirectURI).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
}

func TestAuthorizationCodeFlow(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	code := authorizeCode(t, e)
	token := exchangeCode(e, code)

	token.Value("token_type").IsEqual("Bearer")
	token.Value("expires_in").Number().Gt(0)
	token.Value("scope").IsEqual("read write")
	token.Value("access_token").String().NotEmpty()
	token.Value("refresh_token").String().NotEmpty()

	// Codes are single use.
	e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "authorization_code").
		WithFormField("code", code).
		WithFormField("code_verifier", testVerifier).
		WithFormField("redirect_uri", testRedirectURI).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").IsEqual("invalid_grant")
}

func TestTokenEndpointRejectsBadClient(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	e.POST("/oauth/token").
		WithBasicAuth(testClientID, "wrong").
		WithFormField("grant_type", "authorization_code").
		WithFormField("code", "whatever").
		WithFormField("code_verifier", testVerifier).
		WithFormField("redirect_uri", testRedirectURI).
		Expect().
		Status(http.StatusUnauthorized).
		JSON().Object().Value("error").IsEqual("invalid_client")

	e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "password").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").IsEqual("unsupported_grant_type")
}

func TestRefreshAndReplayOverHTTP(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	token := exchangeCode(e, authorizeCode(t, e))
	firstRefresh := token.Value("refresh_token").String().Raw()

	refreshed := e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "refresh_token").
		WithFormField("refresh_token", firstRefresh).
		WithFormField("scope", "read").
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	refreshed.Value("scope").IsEqual("read")

	// Replaying the rotated-out refresh token surfaces a generic
	// invalid_grant while the lineage is burned server side.
	e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "refresh_token").
		WithFormField("refresh_token", firstRefresh).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").IsEqual("invalid_grant")

	e.POST("/oauth/token").
		WithBasicAuth(testClientID, testClientSecret).
		WithFormField("grant_type", "refresh_token").
		WithFormField("refresh_token", refreshed.Value("refresh_token").String().Raw()).
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").IsEqual("invalid_grant")
}

func TestRevocationEndpoint(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	token := exchangeCode(e, authorizeCode(t, e))
	accessToken := token.Value("access_token").String().Raw()

	e.POST("/oauth/revoke").
		WithFormField("token", accessToken).
		Expect().
		Status(http.StatusOK)

	// Unknown tokens succeed silently.
	e.POST("/oauth/revoke").
		WithFormField("token", "garbage").
		Expect().
		Status(http.StatusOK)

	// Missing token parameter is the one revocation failure mode.
	e.POST("/oauth/revoke").
		Expect().
		Status(http.StatusBadRequest)

	// The revoked pair no longer authenticates.
	e.GET("/protected").
		WithHeader("Authorization", "Bearer "+accessToken).
		Expect().
		Status(http.StatusUnauthorized)
}

func TestIntrospectionEndpoint(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	token := exchangeCode(e, authorizeCode(t, e))
	accessToken := token.Value("access_token").String().Raw()

	active := e.POST("/oauth/introspect").
		WithFormField("token", accessToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object()
	active.Value("active").IsEqual(true)
	active.Value("scope").IsEqual("read write")
	active.Value("sub").IsEqual("user-1")

	e.POST("/oauth/revoke").WithFormField("token", accessToken).Expect().Status(http.StatusOK)

	e.POST("/oauth/introspect").
		WithFormField("token", accessToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("active").IsEqual(false)
}

func TestProtectedRouteMiddleware(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	token := exchangeCode(e, authorizeCode(t, e))
	accessToken := token.Value("access_token").String().Raw()

	e.GET("/protected").
		WithHeader("Authorization", "Bearer "+accessToken).
		Expect().
		Status(http.StatusOK).
		JSON().Object().Value("user_id").IsEqual("user-1")

	e.GET("/protected").
		Expect().
		Status(http.StatusUnauthorized)

	e.GET("/protected").
		WithHeader("Authorization", "Bearer bogus").
		Expect().
		Status(http.StatusUnauthorized)
}

func TestAuthorizeErrorRedirect(t *testing.T) {
	tsrv, _ := newTestServer(t)
	e := expecter(t, tsrv)

	// Scope outside the allowlist bounces back to the registered
	// redirect URI with an error parameter.
	location := e.GET("/oauth/authorize").
		WithQuery("response_type", "code").
		WithQuery("client_id", testClientID).
		WithQuery("redirect_uri", testRedirectURI).
		WithQuery("code_challenge", s256Challenge(testVerifier)).
		WithQuery("code_challenge_method", "S256").
		WithQuery("scope", "delete").
		WithQuery("state", "xyzzy").
		Expect().
		Status(http.StatusFound).
		Header("Location").Raw()

	loc, err := url.Parse(location)
	if err != nil {
		t.Fatalf("parsing redirect location: %v", err)
	}
	if got := loc.Query().Get("error"); got != "invalid_scope" {
		t.Errorf("error param = %q, want invalid_scope", got)
	}

	// An unregistered redirect URI never receives a redirect.
	e.GET("/oauth/authorize").
		WithQuery("response_type", "code").
		WithQuery("client_id", testClientID).
		WithQuery("redirect_uri", "https://evil.example.com/cb").
		WithQuery("code_challenge", s256Challenge(testVerifier)).
		WithQuery("code_challenge_method", "S256").
		Expect().
		Status(http.StatusBadRequest).
		JSON().Object().Value("error").IsEqual("invalid_request")
}
