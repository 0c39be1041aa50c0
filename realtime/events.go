// Package realtime names the pub/sub channels and the event envelope the
// SSE stream delivers. Keeping the naming in one place lets the transport
// (local pub/sub or Redis) change without touching publishers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eroomgame/eroom-server/cache"
)

// Event types pushed to clients.
const (
	EventMessage      = "message"      // new message in a conversation
	EventConversation = "conversation" // conversation list entry changed
	EventRead         = "read"         // read receipts updated
	EventReaction     = "reaction"     // reaction added to a message
	EventNotification = "notification" // new feed notification
)

// OnlineSetKey is the cache set holding the IDs of users with an open
// event stream.
const OnlineSetKey = "online_users"

// Event is the envelope published on pub/sub channels and written to SSE.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// UserChannel carries everything addressed to one user: conversation list
// updates and notifications.
func UserChannel(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// ConversationChannel carries the live message stream of one thread.
func ConversationChannel(convID int64) string {
	return fmt.Sprintf("conv:%d", convID)
}

// Publish marshals and publishes an event. Failures are returned to the
// caller but are non-fatal by convention: a missed push is recovered on
// the next fetch.
func Publish(ctx context.Context, ps cache.PubSub, channel string, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ps.Publish(ctx, channel, string(payload))
}
