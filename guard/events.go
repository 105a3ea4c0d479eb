package guard

import (
	"fmt"
	"time"
)

type EventKind int

const (
	EventLogin EventKind = iota + 1
	EventRefresh
	EventLogout
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventLogin:
		return "login"
	case EventRefresh:
		return "refresh"
	case EventLogout:
		return "logout"
	case EventFailed:
		return "failed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event describes a guard lifecycle change. SessionID is empty for token
// checks; Err is set only for EventFailed.
type Event struct {
	Kind      EventKind
	Strategy  Strategy
	SessionID string
	Subject   string
	Err       error
	At        time.Time
}

// Observer receives events synchronously on the goroutine that produced them.
type Observer func(Event)

// ChannelObserver forwards events to ch without blocking. Events are dropped
// while ch is full.
func ChannelObserver(ch chan<- Event) Observer {
	return func(e Event) {
		select {
		case ch <- e:
		default:
		}
	}
}
