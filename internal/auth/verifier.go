package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go-groupchat/internal/apperr"
	"go-groupchat/internal/models"
	"go-groupchat/internal/store"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Claims are the token claims issued by the HTTP auth service. Only the
// subject is trusted; roles are always re-read from the user store.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Verifier authenticates a connection's credential once, at handshake.
type Verifier struct {
	secret  []byte
	users   store.UserStore
	timeout time.Duration
	now     func() time.Time
}

// NewVerifier returns a Verifier whose user lookups are bounded by timeout.
// Zero leaves them bounded only by the caller's context.
func NewVerifier(secret string, users store.UserStore, timeout time.Duration) *Verifier {
	return &Verifier{
		secret:  []byte(secret),
		users:   users,
		timeout: timeout,
		now:     time.Now,
	}
}

// Authenticate validates tokenString and resolves its subject to a Principal.
// Failures are *apperr.Error values of kind auth with one of the Reason*
// reasons.
func (v *Verifier) Authenticate(ctx context.Context, tokenString string) (models.Principal, error) {
	tokenString = strings.TrimSpace(strings.TrimPrefix(tokenString, "Bearer "))
	if tokenString == "" {
		return models.Principal{}, apperr.Auth(apperr.ReasonMissingToken, nil)
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now), jwt.WithExpirationRequired())
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Principal{}, apperr.Auth(apperr.ReasonExpired, err)
		}
		return models.Principal{}, apperr.Auth(apperr.ReasonInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Principal{}, apperr.Auth(apperr.ReasonInvalidToken, errors.New("invalid token claims"))
	}

	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}
	user, err := v.users.FindUser(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return models.Principal{}, apperr.Auth(apperr.ReasonUserNotFound, err)
	}
	if err != nil {
		return models.Principal{}, apperr.FromStore(err, store.ErrNotFound, "user")
	}

	return models.NewPrincipal(user.Id, user.Username, user.Roles...), nil
}

// Issue signs a token for userId. The production issuer is the HTTP auth
// service; this is used by tests and the token command.
func (v *Verifier) Issue(userId string, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// ExtractTokenFromRequest extracts the handshake credential from the query
// string ("token" or "auth.token") or the Authorization header.
func ExtractTokenFromRequest(r *http.Request) string {
	q := r.URL.Query()
	if token := q.Get("token"); token != "" {
		return token
	}
	if token := q.Get("auth.token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}
