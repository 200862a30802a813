package app

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/odyssey-erp/restopos/internal/platform/httpx"
	"github.com/odyssey-erp/restopos/internal/shared"
)

var errInvalidToken = errors.New("invalid or expired token")

// ActorClaims is the token payload identifying the acting employee and shop.
type ActorClaims struct {
	jwtlib.RegisteredClaims
	EmployeeID int64 `json:"employee_id"`
	ShopID     int64 `json:"shop_id"`
}

// TokenVerifier signs and parses HS256 actor tokens.
type TokenVerifier struct {
	secret []byte
}

// NewTokenVerifier constructs a verifier for the shared secret.
func NewTokenVerifier(secret string) *TokenVerifier {
	return &TokenVerifier{secret: []byte(secret)}
}

// Sign issues a token for actor valid for ttl.
func (v *TokenVerifier) Sign(actor shared.Actor, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := ActorClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
		},
		EmployeeID: actor.EmployeeID,
		ShopID:     actor.ShopID,
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(v.secret)
}

// Parse validates the token and returns the actor it carries.
func (v *TokenVerifier) Parse(token string) (shared.Actor, error) {
	claims := &ActorClaims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(t *jwtlib.Token) (interface{}, error) {
		return v.secret, nil
	}, jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}), jwtlib.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return shared.Actor{}, errInvalidToken
	}
	if claims.EmployeeID <= 0 {
		return shared.Actor{}, errInvalidToken
	}
	return shared.Actor{EmployeeID: claims.EmployeeID, ShopID: claims.ShopID}, nil
}

// ActorMiddleware rejects requests without a valid bearer token and places
// the token's actor in the request context.
func ActorMiddleware(verifier *TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				httpx.Problem(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			actor, err := verifier.Parse(strings.TrimSpace(token))
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "unauthorized", err.Error())
				return
			}
			next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
		})
	}
}
