package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"

	"calsync/internal/config"

	"golang.org/x/time/rate"
)

var ErrUnauthorized = errors.New("unauthorized")

// Auth maps static bearer tokens to user ids and rate limits each user.
// Token lookup is by SHA-256 digest so comparison time does not depend
// on how much of the token matched.
type Auth struct {
	header   string
	tokens   map[[sha256.Size]byte]config.APIUserToken
	rps      rate.Limit
	burst    int
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewAuth(cfg config.APIConfig) *Auth {
	a := &Auth{
		header:   cfg.Auth.HeaderToken,
		tokens:   make(map[[sha256.Size]byte]config.APIUserToken, len(cfg.Auth.Tokens)),
		rps:      rate.Limit(cfg.RateLimit.RPS),
		burst:    cfg.RateLimit.Burst,
		limiters: make(map[string]*rate.Limiter),
	}
	if a.header == "" {
		a.header = "Authorization"
	}
	for _, t := range cfg.Auth.Tokens {
		a.tokens[sha256.Sum256([]byte(t.Token))] = t
	}
	return a
}

// Authenticate resolves the request's bearer token to a user id.
func (a *Auth) Authenticate(r *http.Request) (string, error) {
	raw := r.Header.Get(a.header)
	if raw == "" {
		return "", ErrUnauthorized
	}
	raw = strings.TrimPrefix(raw, "Bearer ")

	digest := sha256.Sum256([]byte(raw))
	entry, ok := a.tokens[digest]
	if !ok || subtle.ConstantTimeCompare([]byte(entry.Token), []byte(raw)) != 1 {
		return "", ErrUnauthorized
	}
	return entry.UserID, nil
}

// Allow reports whether the user is within their request budget.
func (a *Auth) Allow(userID string) bool {
	if a.rps <= 0 {
		return true
	}
	a.mu.Lock()
	limiter, ok := a.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(a.rps, a.burst)
		a.limiters[userID] = limiter
	}
	a.mu.Unlock()
	return limiter.Allow()
}
