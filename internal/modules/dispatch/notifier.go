// README: Push notifications to helper devices through Firebase Cloud Messaging.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"firebase.google.com/go/v4/messaging"
)

// Notifier delivers a new-request notice to one helper device.
type Notifier interface {
	NotifyNewRequest(ctx context.Context, deviceToken string, n Notice) error
}

type FCMNotifier struct {
	client *messaging.Client
	log    *slog.Logger
}

func NewFCMNotifier(client *messaging.Client, log *slog.Logger) *FCMNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &FCMNotifier{client: client, log: log}
}

func (f *FCMNotifier) NotifyNewRequest(ctx context.Context, deviceToken string, n Notice) error {
	msg := buildMessage(deviceToken, n)
	if msg == nil {
		return fmt.Errorf("empty device token for request %s", n.RequestID)
	}
	messageID, err := f.client.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("sending FCM for request %s: %w", n.RequestID, err)
	}
	f.log.Debug("fcm sent", "request_id", n.RequestID, "message_id", messageID)
	return nil
}

func buildMessage(deviceToken string, n Notice) *messaging.Message {
	if deviceToken == "" {
		return nil
	}
	body := fmt.Sprintf("%s needed %.1f km away", n.ServiceType, n.DistanceKm)
	if n.Location.Address != "" {
		body = fmt.Sprintf("%s needed near %s", n.ServiceType, n.Location.Address)
	}
	return &messaging.Message{
		Token: deviceToken,
		Data: map[string]string{
			"type":         "new_ride_request",
			"request_id":   string(n.RequestID),
			"service_type": n.ServiceType,
			"lat":          strconv.FormatFloat(n.Location.Lat, 'f', 6, 64),
			"lng":          strconv.FormatFloat(n.Location.Lng, 'f', 6, 64),
			"distance_km":  strconv.FormatFloat(n.DistanceKm, 'f', 2, 64),
		},
		Notification: &messaging.Notification{
			Title: "New roadside request",
			Body:  body,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	}
}

// LogNotifier only logs notices; used when push is not configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (l LogNotifier) NotifyNewRequest(_ context.Context, deviceToken string, n Notice) error {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("new request notice", "request_id", n.RequestID, "service_type", n.ServiceType, "has_token", deviceToken != "")
	return nil
}
