package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calsync/internal/domain"
	"calsync/internal/models"
)

// ErrNotConnected means no secrets row exists for the user.
var ErrNotConnected = errors.New("calendar not connected")

// ValidAccessToken returns a decrypted access token for the user, refreshing
// it through the OAuth broker when it is expired or about to expire.
func (w *Worker) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	return w.getValidAccessToken(ctx, userID)
}

// getValidAccessToken returns a usable access token, refreshing at most once
// per call. A 60-second margin avoids handing out a token that expires
// mid-request. Concurrent refreshes for the same user are tolerated: the
// provider treats refresh as idempotent and the last write wins.
func (w *Worker) getValidAccessToken(ctx context.Context, userID string) (string, error) {
	secrets, err := w.store.GetSecrets(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	now := time.Now().UTC()
	if secrets.AccessTokenEnc != nil && secrets.AccessTokenExpiresAt != nil &&
		secrets.AccessTokenExpiresAt.After(now.Add(models.AccessTokenSafetyMargin)) {
		token, err := w.vault.Decrypt(*secrets.AccessTokenEnc)
		if err != nil {
			return "", fmt.Errorf("decrypt access token: %w", err)
		}
		return token, nil
	}

	refreshToken, err := w.vault.Decrypt(secrets.RefreshTokenEnc)
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	fresh, err := w.broker.RefreshAccessToken(ctx, refreshToken)
	if err != nil {
		return "", fmt.Errorf("refresh access token: %w", err)
	}

	enc, err := w.vault.Encrypt(fresh.AccessToken)
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}

	expiry := fresh.Expiry
	if expiry.IsZero() {
		expiry = now.Add(time.Hour)
	}
	if err := w.store.UpdateAccessToken(ctx, userID, enc, expiry.UTC()); err != nil {
		return "", fmt.Errorf("store access token: %w", err)
	}

	return fresh.AccessToken, nil
}

// calendarClient builds an authenticated calendar client for the user.
func (w *Worker) calendarClient(ctx context.Context, userID string) (clientWithCalendar, error) {
	token, err := w.getValidAccessToken(ctx, userID)
	if err != nil {
		return clientWithCalendar{}, err
	}

	api, err := w.newClient(ctx, token)
	if err != nil {
		return clientWithCalendar{}, fmt.Errorf("create calendar client: %w", err)
	}

	conn, err := w.store.GetConnection(ctx, userID)
	if err != nil {
		return clientWithCalendar{}, fmt.Errorf("load connection: %w", err)
	}
	if conn.CalendarID == nil || *conn.CalendarID == "" {
		return clientWithCalendar{}, errors.New("no calendar selected")
	}

	return clientWithCalendar{api: api, calendarID: *conn.CalendarID}, nil
}

type clientWithCalendar struct {
	api        domain.CalendarAPI
	calendarID string
}
