package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"fieldclock/internal/domain"
	"fieldclock/internal/timeclock"
)

// TokenStore looks up a user's push token. "" means no device registered.
type TokenStore interface {
	GetFCMToken(userID string) (string, error)
}

// NotificationService tells workers about automatic clock transitions and
// wakes devices to report their position.
type NotificationService struct {
	tokens  TokenStore
	push    Pusher
	log     *logrus.Entry
	timeout time.Duration
}

func NewNotificationService(tokens TokenStore, push Pusher, log *logrus.Entry) *NotificationService {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &NotificationService{tokens: tokens, push: push, log: log, timeout: 10 * time.Second}
}

// RequestLocation sends a silent location request to the user's device.
func (s *NotificationService) RequestLocation(ctx context.Context, userID string) error {
	if s.push == nil {
		return nil
	}
	token, err := s.tokens.GetFCMToken(userID)
	if err != nil {
		return fmt.Errorf("load push token: %w", err)
	}
	if token == "" {
		return nil
	}
	return s.push.SendDataOnly(ctx, token, map[string]string{
		"type":    domain.NotifyLocationRequest,
		"user_id": userID,
	})
}

// OnEvent pushes a notification for automatic transitions. Manual ones were
// started by the user and need no confirmation.
func (s *NotificationService) OnEvent(ev timeclock.Event) {
	if s.push == nil || !ev.Automatic {
		return
	}
	log := s.log.WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Type})
	token, err := s.tokens.GetFCMToken(ev.UserID)
	if err != nil {
		log.WithError(err).Warn("load push token")
		return
	}
	if token == "" {
		return
	}
	notifType, title, body := describe(ev)
	data := map[string]string{
		"type":             notifType,
		"session_id":       ev.Session.ID,
		"work_location_id": ev.Session.WorkLocationID,
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.push.Send(ctx, token, title, body, data); err != nil {
		log.WithError(err).Warn("transition push failed")
	}
}

func describe(ev timeclock.Event) (notifType, title, body string) {
	site := ev.Session.WorkLocationName
	if site == "" {
		site = "your work location"
	}
	if ev.ClockedIn() {
		return domain.NotifyAutoClockIn, "Clocked in",
			fmt.Sprintf("You were clocked in at %s at %s.", site, ev.Entry.Timestamp.Format("15:04"))
	}
	return domain.NotifyAutoClockOut, "Clocked out",
		fmt.Sprintf("You were clocked out of %s after %s.", site, formatDuration(ev.Session.Duration()))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	h := int(d / time.Hour)
	m := int((d % time.Hour) / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
