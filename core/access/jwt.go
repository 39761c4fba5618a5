package access

import (
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/napix-io/napixd/core/logger"
)

// tokenClaims are the claims the service reads from a bearer token.
type tokenClaims struct {
	EMail string   `json:"email"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JwtMiddlewareBuilder is a helper builder for the JWT middleware
type JwtMiddlewareBuilder struct {
	// Key is the shared HMAC signing secret.
	Key []byte
	// Issuer is the accepted issuer for the token
	Issuer string
	// AllowAnonymous lets requests without any token pass through
	// unauthenticated. Requests with a bad token are still rejected.
	AllowAnonymous bool
}

// NewJwtMiddleware returns a middleware handler to validate JWT bearer
// tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as
// "Napix-JWT"-cookie. The verified identity is the combination of the
// token issuer with the requester's email, separated by the pipe symbol
// '|'. Example:
//
//	"napixd|test@example.com"
//
// This is a final handler with regards to the bearer token. It returns
// http.StatusUnauthorized when the token is missing or insufficient to
// authenticate the request.
func NewJwtMiddleware(jmb *JwtMiddlewareBuilder) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(IdentityFromContext(r.Context())) > 0 { // already authenticated?
				h.ServeHTTP(w, r)
				return
			}

			rlog := logger.FromContext(r.Context())

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie("Napix-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				if jmb.AllowAnonymous {
					h.ServeHTTP(w, r)
					return
				}
				unauthorized(w, "missing token")
				return
			}

			claims := tokenClaims{}
			token, err := jwt.ParseWithClaims(tokenString, &claims,
				func(token *jwt.Token) (interface{}, error) {
					if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return jmb.Key, nil
				})
			if err != nil || !token.Valid || claims.Issuer != jmb.Issuer {
				rlog.WithError(err).Debugln("rejected bearer token")
				unauthorized(w, "invalid token")
				return
			}

			// identity is a combination of issuer and email
			identity := claims.Issuer + "|" + claims.EMail

			ctx := ContextWithIdentity(r.Context(), identity)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, identity)
			ctx = ContextWithAuthorization(ctx, &Authorization{Roles: claims.Roles})
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Write(body)
}
