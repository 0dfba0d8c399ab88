package integrations

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/chxlky/taskboard/internal/models"
	"go.uber.org/zap"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var ErrNoDueDate = errors.New("task does not have a due date")

type CalendarClient struct {
	service    *calendar.Service
	calendarID string
}

// NewCalendarClient authenticates with a service account key in JSON form.
func NewCalendarClient(ctx context.Context, credentialsJSON []byte, calendarID string) (*CalendarClient, error) {
	config, err := google.JWTConfigFromJSON(credentialsJSON, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account credentials from JSON: %w", err)
	}
	return NewCalendarClientWithOptions(ctx, calendarID, option.WithHTTPClient(config.Client(ctx)))
}

func NewCalendarClientWithOptions(ctx context.Context, calendarID string, opts ...option.ClientOption) (*CalendarClient, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("google calendar ID is not configured")
	}
	srv, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Calendar client: %w", err)
	}
	return &CalendarClient{service: srv, calendarID: calendarID}, nil
}

func taskEvent(task models.Task, event *calendar.Event) *calendar.Event {
	if event == nil {
		event = &calendar.Event{}
	}
	event.Summary = task.Title
	event.Description = task.Content
	event.Start = &calendar.EventDateTime{
		Date: task.DueDate.Format("2006-01-02"),
	}
	event.End = &calendar.EventDateTime{
		Date: task.DueDate.AddDate(0, 0, 1).Format("2006-01-02"), // all-day event ends the next day
	}
	return event
}

func (c *CalendarClient) CreateEvent(ctx context.Context, task models.Task) (*calendar.Event, error) {
	if task.DueDate == nil {
		return nil, ErrNoDueDate
	}

	created, err := c.service.Events.Insert(c.calendarID, taskEvent(task, nil)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to create event in Google Calendar: %w", err)
	}
	return created, nil
}

func (c *CalendarClient) UpdateEvent(ctx context.Context, task models.Task, eventID string) (*calendar.Event, error) {
	if task.DueDate == nil {
		return nil, ErrNoDueDate
	}

	event, err := c.service.Events.Get(c.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve event from Google Calendar: %w", err)
	}

	updated, err := c.service.Events.Update(c.calendarID, event.Id, taskEvent(task, event)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("unable to update event in Google Calendar: %w", err)
	}
	return updated, nil
}

func (c *CalendarClient) DeleteEvent(ctx context.Context, eventID string) error {
	err := c.service.Events.Delete(c.calendarID, eventID).Context(ctx).Do()
	if isNotFound(err) {
		zap.L().Info("Event not found in Google Calendar. Already deleted.", zap.String("eventID", eventID))
		return nil
	}
	if err != nil {
		return fmt.Errorf("unable to delete event from Google Calendar: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone)
}
