package service

import (
	"context"
	"strconv"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// silentTTL bounds how long FCM holds a data-only push. A location request
// delivered after the fetch gave up is useless.
const silentTTL = 30 * time.Second

// Pusher delivers push messages to one device token.
type Pusher interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) error
	SendDataOnly(ctx context.Context, token string, data map[string]string) error
}

// FCMService sends push notifications via Firebase Cloud Messaging.
type FCMService struct {
	client *messaging.Client
	log    *logrus.Entry
}

// NewFCMService returns nil if Firebase is not configured or fails to start.
func NewFCMService(serviceAccountPath string, log *logrus.Entry) *FCMService {
	if serviceAccountPath == "" {
		return nil
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ctx := context.Background()
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(serviceAccountPath))
	if err != nil {
		log.WithError(err).Error("init firebase app")
		return nil
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		log.WithError(err).Error("init firebase messaging")
		return nil
	}
	return &FCMService{client: client, log: log}
}

// Send shows a notification. Transitions of the same kind replace each
// other in the tray.
func (s *FCMService) Send(ctx context.Context, token, title, body string, data map[string]string) error {
	msg := newMessage(token, data)
	msg.Notification = &messaging.Notification{Title: title, Body: body}
	msg.Android.Notification = &messaging.AndroidNotification{Sound: "default", Tag: data["type"]}
	msg.APNS.Payload.Aps.Sound = "default"
	msg.APNS.Headers = map[string]string{"apns-collapse-id": data["type"]}
	return s.send(ctx, msg)
}

// SendDataOnly sends a silent push that wakes the app's background handler.
func (s *FCMService) SendDataOnly(ctx context.Context, token string, data map[string]string) error {
	msg := newMessage(token, data)
	ttl := silentTTL
	msg.Android.TTL = &ttl
	msg.APNS.Payload.Aps.ContentAvailable = true
	msg.APNS.Headers = map[string]string{
		"apns-priority":   "10",
		"apns-expiration": strconv.FormatInt(time.Now().Add(silentTTL).Unix(), 10),
	}
	return s.send(ctx, msg)
}

func (s *FCMService) send(ctx context.Context, msg *messaging.Message) error {
	if s == nil || msg.Token == "" {
		return nil
	}
	if _, err := s.client.Send(ctx, msg); err != nil {
		s.log.WithError(err).WithField("type", msg.Data["type"]).Warn("fcm send failed")
		return err
	}
	return nil
}

func newMessage(token string, data map[string]string) *messaging.Message {
	return &messaging.Message{
		Token:   token,
		Data:    data,
		Android: &messaging.AndroidConfig{Priority: "high"},
		APNS:    &messaging.APNSConfig{Payload: &messaging.APNSPayload{Aps: &messaging.Aps{}}},
	}
}
