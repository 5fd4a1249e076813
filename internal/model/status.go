package model

import "fmt"

// Status is the reachability state of a node.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// ValidStatuses defines allowed status values.
var ValidStatuses = map[Status]bool{
	StatusUnknown: true,
	StatusOnline:  true,
	StatusOffline: true,
}

// ParseStatus validates a stored or configured status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !ValidStatuses[st] {
		return "", fmt.Errorf("invalid status %q: must be one of online, offline, unknown", s)
	}
	return st, nil
}

// StatusFromOnline maps an observed online flag to a Status.
func StatusFromOnline(online bool) Status {
	if online {
		return StatusOnline
	}
	return StatusOffline
}
