// Package push relays bus events to Firebase Cloud Messaging. Each clinic has
// its own topic; staff apps subscribe to the topic of their clinic.
package push

import (
	"context"
	"fmt"
	"regexp"

	"clinic-booking/internal/notify"

	firebase "firebase.google.com/go"
	"firebase.google.com/go/messaging"
	"google.golang.org/api/option"
)

const platformTopic = "clinic_platform"

type sender interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

type FCM struct {
	client sender
}

// NewFCM builds a sink from a service account JSON file.
func NewFCM(ctx context.Context, credentialsFile string) (*FCM, error) {
	app, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init messaging client: %w", err)
	}
	return &FCM{client: client}, nil
}

func (f *FCM) Name() string { return "fcm" }

// Deliver sends a data-only message; clients render it from the event type.
func (f *FCM) Deliver(ctx context.Context, evt notify.Event) error {
	_, err := f.client.Send(ctx, &messaging.Message{
		Topic: TopicFor(evt),
		Data:  DataFor(evt),
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
	})
	if err != nil {
		return fmt.Errorf("fcm send %s: %w", evt.Type, err)
	}
	return nil
}

var topicUnsafe = regexp.MustCompile(`[^a-zA-Z0-9\-_.~%]`)

// TopicFor maps the event owner to an FCM topic name.
func TopicFor(evt notify.Event) string {
	if evt.TenantID == nil || *evt.TenantID == "" {
		return platformTopic
	}
	return "clinic_" + topicUnsafe.ReplaceAllString(*evt.TenantID, "_")
}

// DataFor flattens the envelope into the string map FCM data messages carry.
func DataFor(evt notify.Event) map[string]string {
	data := make(map[string]string, len(evt.Payload)+2)
	for k, v := range evt.Payload {
		data[k] = fmt.Sprint(v)
	}
	data["type"] = evt.Type
	data["timestamp"] = evt.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	return data
}
