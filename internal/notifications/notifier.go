// Package notifications provides real-time delivery of donation request events.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"

	"bloodbooth/internal/middleware"
	"bloodbooth/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	userChannelPrefix  = "notifications:user:"
	userChannelPattern = userChannelPrefix + "*"
)

// Event types published on donation request changes.
const (
	EventDonationRequestCreated   = "donation_request.created"
	EventDonationRequestAccepted  = "donation_request.accepted"
	EventDonationRequestCompleted = "donation_request.completed"
	EventDonationRequestCancelled = "donation_request.cancelled"
)

// Event is the JSON envelope delivered to websocket clients.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Notifier provides helpers to publish notifications into Redis channels
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a new Notifier instance using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// UserChannel derives the Redis channel name for a user.
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// UserFromChannel extracts the user id from a user channel name.
func UserFromChannel(channel string) (string, bool) {
	id, ok := strings.CutPrefix(channel, userChannelPrefix)
	return id, ok && id != ""
}

// PublishUser sends a notification payload to a user's channel.
func (n *Notifier) PublishUser(ctx context.Context, userID, payload string) error {
	if n.rdb == nil {
		return nil
	}
	return n.rdb.Publish(ctx, UserChannel(userID), payload).Err()
}

// PublishEvent marshals an Event and publishes it once to each distinct user.
// It keeps publishing after a failure and returns the first error.
func (n *Notifier) PublishEvent(ctx context.Context, userIDs []string, eventType string, payload any) error {
	if n.rdb == nil {
		return nil
	}
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var firstErr error
	seen := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if err := n.PublishUser(ctx, id, string(data)); err != nil {
			observability.EventsPublished.WithLabelValues(eventType, "error").Inc()
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		observability.EventsPublished.WithLabelValues(eventType, "ok").Inc()
	}
	return firstErr
}

// StartPatternSubscriber subscribes to pattern `notifications:user:*` and calls onMessage
// for each incoming message. onMessage receives channel and payload.
func (n *Notifier) StartPatternSubscriber(
	ctx context.Context, onMessage func(channel string, payload string),
) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, userChannelPattern)
	// Wait for the subscription confirmation so publishes right after start are not lost.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", userChannelPattern, err)
	}
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							middleware.Logger.Error("panic in pattern subscriber",
								"panic", fmt.Sprint(r), "stack", string(debug.Stack()))
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}
