// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/taibuivan/releasewatch/pkg/uuid"
)

// GoogleCalendar writes events to one Google calendar.
//
// Event ids are derived from release ids, so inserting the same release twice
// collides with 409 and is turned into an update.
type GoogleCalendar struct {
	service    *calendar.Service
	calendarID string
}

// NewGoogleCalendar creates a transport for calendarID. Authentication comes
// from opts, e.g. option.WithCredentialsFile.
func NewGoogleCalendar(ctx context.Context, calendarID string, opts ...option.ClientOption) (*GoogleCalendar, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcal: create service: %w", err)
	}
	return &GoogleCalendar{service: service, calendarID: calendarID}, nil
}

// EventID maps a release id onto the calendar's id alphabet (base32hex).
func EventID(releaseID string) (string, error) {
	compact, err := uuid.Compact(releaseID)
	if err != nil {
		return "", fmt.Errorf("gcal: event id for %q: %w", releaseID, err)
	}
	return "rw" + compact, nil
}

// Create inserts the event, falling back to an update when it already exists.
func (g *GoogleCalendar) Create(ctx context.Context, event CalendarEvent) (string, error) {
	id, err := EventID(event.ReleaseID)
	if err != nil {
		return "", err
	}

	body := toGoogleEvent(event)
	body.Id = id

	_, err = g.service.Events.Insert(g.calendarID, body).Context(ctx).Do()
	if isStatus(err, http.StatusConflict) {
		return id, g.Update(ctx, id, event)
	}
	if err != nil {
		return "", fmt.Errorf("gcal: insert %s: %w", id, err)
	}
	return id, nil
}

// Update overwrites the event. A missing event is re-created under the same id.
func (g *GoogleCalendar) Update(ctx context.Context, ref string, event CalendarEvent) error {
	_, err := g.service.Events.Update(g.calendarID, ref, toGoogleEvent(event)).Context(ctx).Do()
	if isStatus(err, http.StatusNotFound) {
		body := toGoogleEvent(event)
		body.Id = ref
		_, err = g.service.Events.Insert(g.calendarID, body).Context(ctx).Do()
	}
	if err != nil {
		return fmt.Errorf("gcal: update %s: %w", ref, err)
	}
	return nil
}

func toGoogleEvent(event CalendarEvent) *calendar.Event {
	day := event.Date.Format("2006-01-02")
	next := event.Date.AddDate(0, 0, 1).Format("2006-01-02")

	body := &calendar.Event{
		Summary:      event.Summary,
		Description:  event.Description,
		Start:        &calendar.EventDateTime{Date: day},
		End:          &calendar.EventDateTime{Date: next},
		Transparency: "transparent",
	}
	if event.URL != "" {
		body.Source = &calendar.EventSource{Title: event.Summary, Url: event.URL}
	}
	return body
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}
