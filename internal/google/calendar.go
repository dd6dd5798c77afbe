// Package google wraps the Calendar REST surface behind typed operations.
// The client is stateless: a new instance is built per access token and
// holds no sync state of its own.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// ErrSyncTokenExpired signals a 410 Gone from delta listing: the stored sync
// token is no longer usable and the caller must reset to a full lookback
// instead of retrying the same request.
var ErrSyncTokenExpired = errors.New("sync token expired")

// ErrEventGone signals a 404/410 on a specific event, typically one deleted
// out-of-band on the provider side.
var ErrEventGone = errors.New("event gone")

type Client struct {
	service *calendar.Service
}

// NewClient builds a calendar client authenticated with the given access token.
func NewClient(ctx context.Context, accessToken string) (*Client, error) {
	source := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	service, err := calendar.NewService(ctx, option.WithTokenSource(source))
	if err != nil {
		return nil, fmt.Errorf("unable to create calendar service: %w", err)
	}
	return &Client{service: service}, nil
}

// CalendarInfo is the subset of calendar-list metadata exposed to callers.
type CalendarInfo struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary"`
}

// ListCalendars enumerates calendars visible to the account.
func (c *Client) ListCalendars(ctx context.Context) ([]CalendarInfo, error) {
	var calendars []CalendarInfo
	pageToken := ""
	for {
		call := c.service.CalendarList.List().Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("list calendars: %w", err)
		}
		for _, item := range resp.Items {
			calendars = append(calendars, CalendarInfo{
				ID:      item.Id,
				Summary: item.Summary,
				Primary: item.Primary,
			})
		}
		if resp.NextPageToken == "" {
			return calendars, nil
		}
		pageToken = resp.NextPageToken
	}
}

// CreateCalendar creates a secondary calendar with the given summary.
func (c *Client) CreateCalendar(ctx context.Context, summary string) (*CalendarInfo, error) {
	created, err := c.service.Calendars.Insert(&calendar.Calendar{Summary: summary}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("create calendar: %w", err)
	}
	return &CalendarInfo{ID: created.Id, Summary: created.Summary}, nil
}

// EnsureNamedCalendar finds a calendar by summary (case-insensitive) or
// creates one.
func (c *Client) EnsureNamedCalendar(ctx context.Context, name string) (*CalendarInfo, error) {
	calendars, err := c.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	for i := range calendars {
		if strings.EqualFold(strings.TrimSpace(calendars[i].Summary), strings.TrimSpace(name)) {
			return &calendars[i], nil
		}
	}
	return c.CreateCalendar(ctx, name)
}

// InsertEvent creates an event without notifying guests.
func (c *Client) InsertEvent(ctx context.Context, calendarID string, event *calendar.Event) (*calendar.Event, error) {
	created, err := c.service.Events.Insert(calendarID, event).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return created, nil
}

// PatchEvent applies a partial update without notifying guests.
func (c *Client) PatchEvent(ctx context.Context, calendarID, eventID string, event *calendar.Event) (*calendar.Event, error) {
	patched, err := c.service.Events.Patch(calendarID, eventID, event).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		if isGone(err) {
			return nil, ErrEventGone
		}
		return nil, fmt.Errorf("patch event: %w", err)
	}
	return patched, nil
}

// DeleteEvent removes an event without notifying guests. An already-deleted
// event surfaces as ErrEventGone so callers can treat it as success.
func (c *Client) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates("none").
		Context(ctx).
		Do()
	if err != nil {
		if isGone(err) {
			return ErrEventGone
		}
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// DeltaPage is one page of an incremental event listing.
type DeltaPage struct {
	Items         []*calendar.Event
	NextPageToken string
	NextSyncToken string
}

// ListEventsDelta lists changed events. With a sync token the listing is
// incremental; without one, timeMin bounds a full lookback. A 410 from the
// provider surfaces as ErrSyncTokenExpired.
func (c *Client) ListEventsDelta(ctx context.Context, calendarID, syncToken, pageToken string, timeMin *time.Time) (*DeltaPage, error) {
	call := c.service.Events.List(calendarID).
		SingleEvents(false).
		ShowDeleted(true).
		Context(ctx)

	if syncToken != "" {
		call = call.SyncToken(syncToken)
	} else if timeMin != nil {
		call = call.TimeMin(timeMin.UTC().Format(time.RFC3339))
	}
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}

	resp, err := call.Do()
	if err != nil {
		if isStatus(err, 410) {
			return nil, ErrSyncTokenExpired
		}
		return nil, fmt.Errorf("list events delta: %w", err)
	}

	return &DeltaPage{
		Items:         resp.Items,
		NextPageToken: resp.NextPageToken,
		NextSyncToken: resp.NextSyncToken,
	}, nil
}

// WatchChannel is the provider-side webhook subscription handle.
type WatchChannel struct {
	ChannelID  string
	ResourceID string
	Expiration time.Time
}

// UpsertWatchChannel subscribes the webhook URL to the calendar's event feed.
// The channel secret travels back on every notification as the channel token.
func (c *Client) UpsertWatchChannel(ctx context.Context, calendarID, channelID, webhookURL, channelSecret string) (*WatchChannel, error) {
	resp, err := c.service.Events.Watch(calendarID, &calendar.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: webhookURL,
		Token:   channelSecret,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("watch calendar: %w", err)
	}

	return &WatchChannel{
		ChannelID:  resp.Id,
		ResourceID: resp.ResourceId,
		Expiration: time.UnixMilli(resp.Expiration).UTC(),
	}, nil
}

// StopWatchChannel tears down a webhook subscription.
func (c *Client) StopWatchChannel(ctx context.Context, channelID, resourceID string) error {
	err := c.service.Channels.Stop(&calendar.Channel{
		Id:         channelID,
		ResourceId: resourceID,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("stop channel: %w", err)
	}
	return nil
}

func isStatus(err error, code int) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

func isGone(err error) bool {
	return isStatus(err, 404) || isStatus(err, 410)
}
