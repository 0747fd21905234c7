// Package runstatus names the coarse session states reported to the user.
package runstatus

import "strings"

// Status is a human-readable session state.
type Status string

const (
	Authenticated    Status = "Authenticated"
	Connected        Status = "Connected"
	Subscribed       Status = "Subscribed"
	Reconnecting     Status = "Reconnecting"
	Disconnected     Status = "Disconnected"
	DisconnectedAuth Status = "Disconnected (auth)"
)

// Key is the lowercase form used in logs and log fields.
func (s Status) Key() string {
	return strings.ToLower(strings.TrimSpace(string(s)))
}

// Live reports whether traffic can flow in this state.
func (s Status) Live() bool {
	return s == Connected || s == Subscribed
}

// Final reports whether the session has ended.
func (s Status) Final() bool {
	return s == Disconnected || s == DisconnectedAuth
}
