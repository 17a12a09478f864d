package pubsub

import (
	"fmt"
	"strings"
)

// Channel naming for per-identity delivery. Every instance subscribes to
// the pattern and delivers to the sessions it holds locally.
const (
	ChannelUserEvents        = "chat:user:%s:events"
	ChannelUserEventsPattern = "chat:user:*:events"
)

// UserEventsChannel returns the channel carrying live events for userID.
func UserEventsChannel(userID string) string {
	return fmt.Sprintf(ChannelUserEvents, userID)
}

// UserIDFromChannel extracts the identity from a per-user channel name.
func UserIDFromChannel(channel string) (string, bool) {
	parts := strings.Split(channel, ":")
	if len(parts) != 4 || parts[0] != "chat" || parts[1] != "user" || parts[3] != "events" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
