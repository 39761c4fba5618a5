package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("test-secret")

func mintToken(t *testing.T, key []byte, issuer, email string, roles []string) string {
	claims := jwt.MapClaims{
		"iss":   issuer,
		"email": email,
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	if roles != nil {
		claims["roles"] = roles
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func newTestRouter(builder *JwtMiddlewareBuilder) (*mux.Router, *string, **Authorization) {
	identity := new(string)
	auth := new(*Authorization)
	router := mux.NewRouter()
	router.Use(NewJwtMiddleware(builder))
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		*identity = IdentityFromContext(r.Context())
		*auth = AuthorizationFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return router, identity, auth
}

func TestValidBearerToken(t *testing.T) {
	router, identity, auth := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, testKey, "napixd", "test@example.com", []string{"admin"}))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "napixd|test@example.com", *identity)
	assert.True(t, (*auth).HasRole("admin"))
	assert.False(t, (*auth).HasRole("root"))
}

func TestCookieToken(t *testing.T) {
	router, identity, _ := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{
		Name:  "Napix-JWT",
		Value: mintToken(t, testKey, "napixd", "test@example.com", nil),
	})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "napixd|test@example.com", *identity)
}

func TestBadSignature(t *testing.T) {
	router, _, _ := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, []byte("other-key"), "napixd", "test@example.com", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestWrongIssuer(t *testing.T) {
	router, _, _ := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+mintToken(t, testKey, "somebody-else", "test@example.com", nil))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMissingToken(t *testing.T) {
	router, _, _ := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd"})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAllowAnonymous(t *testing.T) {
	router, identity, _ := newTestRouter(&JwtMiddlewareBuilder{Key: testKey, Issuer: "napixd", AllowAnonymous: true})

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, *identity)

	// a bad token is still rejected
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer garbage")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthorizationHelpers(t *testing.T) {
	var nilAuth *Authorization
	assert.False(t, nilAuth.HasRole("admin"))
	_, ok := nilAuth.Property("tenant")
	assert.False(t, ok)

	auth := &Authorization{Roles: []string{"admin"}, Properties: map[string]string{"tenant": "acme"}}
	value, ok := auth.Property("tenant")
	assert.True(t, ok)
	assert.Equal(t, "acme", value)
}
