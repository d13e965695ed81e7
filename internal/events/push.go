// README: Push publisher; FCM data messages to device tokens kept in Realtime Database, rooms map to topics.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/messaging"
)

type messenger interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// TokenSource resolves the device token registered for a user.
type TokenSource interface {
	DeviceToken(ctx context.Context, kind AudienceKind, id string) (string, error)
}

// RTDBTokens reads tokens stored under /device_tokens/{kind}s/{id}.
type RTDBTokens struct {
	client *db.Client
}

func NewRTDBTokens(client *db.Client) *RTDBTokens {
	return &RTDBTokens{client: client}
}

func (t *RTDBTokens) DeviceToken(ctx context.Context, kind AudienceKind, id string) (string, error) {
	var token string
	if err := t.client.NewRef(fmt.Sprintf("device_tokens/%ss/%s", kind, id)).Get(ctx, &token); err != nil {
		return "", fmt.Errorf("read device token for %s %s: %w", kind, id, err)
	}
	return token, nil
}

type PushPublisher struct {
	msg    messenger
	tokens TokenSource
}

func NewPushPublisher(msg *messaging.Client, tokens TokenSource) *PushPublisher {
	return &PushPublisher{msg: msg, tokens: tokens}
}

func (p *PushPublisher) Publish(ctx context.Context, e Event) error {
	data := map[string]string{
		"type":     string(e.Name),
		"event_id": string(e.ID),
		"ride_id":  string(e.RideID),
	}
	for k, v := range e.Payload {
		data[k] = fmt.Sprint(v)
	}

	var errs []error
	for _, a := range e.Audience {
		m := &messaging.Message{
			Data:    data,
			Android: &messaging.AndroidConfig{Priority: "high"},
		}
		switch a.Kind {
		case AudienceRoom:
			m.Topic = topicFor(a.ID)
		default:
			token, err := p.tokens.DeviceToken(ctx, a.Kind, a.ID)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if token == "" {
				continue
			}
			m.Token = token
		}
		if _, err := p.msg.Send(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("send %s to %s %s: %w", e.Name, a.Kind, a.ID, err))
		}
	}
	return errors.Join(errs...)
}

// FCM topics allow [a-zA-Z0-9-_.~%].
func topicFor(room string) string {
	return strings.ReplaceAll(room, ":", "_")
}
