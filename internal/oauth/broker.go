package oauth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"calsync/internal/config"
	"calsync/internal/models"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	// ErrInvalidState means the state token failed signature or shape checks.
	ErrInvalidState = errors.New("invalid oauth state")
	// ErrExpiredState means the state token is past its deadline.
	ErrExpiredState = errors.New("expired oauth state")
	// ErrExchangeFailed means the provider returned no usable access token.
	ErrExchangeFailed = errors.New("oauth code exchange failed")
)

// Scopes requested on consent: event access plus the account email for
// display on the connection record.
var scopes = []string{
	"https://www.googleapis.com/auth/calendar",
	"https://www.googleapis.com/auth/userinfo.email",
}

const userinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// Broker builds consent URLs, verifies anti-forgery state and exchanges
// authorization codes and refresh tokens for access tokens.
type Broker struct {
	conf        *oauth2.Config
	stateSecret []byte
	now         func() time.Time
}

func NewBroker(cfg config.GoogleConfig, stateSecret string) *Broker {
	return &Broker{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		stateSecret: []byte(stateSecret),
		now:         time.Now,
	}
}

type statePayload struct {
	UserID string `json:"user_id"`
	Nonce  string `json:"nonce"`
	Exp    int64  `json:"exp"`
}

// CreateState returns base64url(payload) + "." + base64url(hmac-sha256(payload)).
func (b *Broker) CreateState(userID string) (string, error) {
	payload := statePayload{
		UserID: userID,
		Nonce:  uuid.NewString(),
		Exp:    b.now().Add(models.StateTTL).Unix(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(raw)
	return encoded + "." + b.sign(encoded), nil
}

// ParseState verifies the signature in constant time, checks expiry and
// returns the user id the state was issued for.
func (b *Broker) ParseState(state string) (string, error) {
	parts := strings.Split(state, ".")
	if len(parts) != 2 {
		return "", ErrInvalidState
	}

	if !hmac.Equal([]byte(b.sign(parts[0])), []byte(parts[1])) {
		return "", ErrInvalidState
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", ErrInvalidState
	}

	var payload statePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", ErrInvalidState
	}
	if payload.UserID == "" {
		return "", ErrInvalidState
	}
	if b.now().Unix() > payload.Exp {
		return "", ErrExpiredState
	}

	return payload.UserID, nil
}

func (b *Broker) sign(encoded string) string {
	mac := hmac.New(sha256.New, b.stateSecret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ConsentURL embeds the signed state and requests offline access with a
// forced consent prompt so a refresh token is granted on first connect.
func (b *Broker) ConsentURL(state string) string {
	return b.conf.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)
}

// ExchangeCode trades an authorization code for tokens. The refresh token is
// only present on first consent; callers must keep the previously stored one
// when it comes back empty.
func (b *Broker) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := b.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	if token.AccessToken == "" {
		return nil, ErrExchangeFailed
	}
	return token, nil
}

// RefreshAccessToken mints a fresh access token from a stored refresh token.
func (b *Broker) RefreshAccessToken(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	source := b.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if token.AccessToken == "" {
		return nil, ErrExchangeFailed
	}
	return token, nil
}

// FetchUserEmail reads the account email via the userinfo endpoint.
func (b *Broker) FetchUserEmail(ctx context.Context, token *oauth2.Token) (string, error) {
	client := b.conf.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userinfoURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("userinfo status %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decode userinfo: %w", err)
	}
	return info.Email, nil
}
