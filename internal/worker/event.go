package worker

import (
	"context"
	"net/http"
	"sync"
)

// Trigger is the kind of event delivered to a worker
type Trigger int

const (
	TriggerInstall Trigger = iota
	TriggerActivate
	TriggerFetch
	TriggerMessage
)

func (t Trigger) String() string {
	switch t {
	case TriggerInstall:
		return "install"
	case TriggerActivate:
		return "activate"
	case TriggerFetch:
		return "fetch"
	case TriggerMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Handler processes one event. Returning is the completion signal: the
// caller treats the cycle as finished (or failed) only once it returns.
type Handler func(ctx context.Context, ev *Event) error

// Event is a single trigger delivered to a worker
type Event struct {
	Trigger Trigger
	// Request is set for fetch events
	Request *http.Request
	// Data is the payload of message events
	Data string

	mu        sync.Mutex
	response  *http.Response
	responded bool
}

func InstallEvent() *Event {
	return &Event{Trigger: TriggerInstall}
}

func ActivateEvent() *Event {
	return &Event{Trigger: TriggerActivate}
}

func FetchEvent(req *http.Request) *Event {
	return &Event{Trigger: TriggerFetch, Request: req}
}

func MessageEvent(data string) *Event {
	return &Event{Trigger: TriggerMessage, Data: data}
}

// RespondWith supplies the response for a fetch event. Only the first call counts.
func (e *Event) RespondWith(resp *http.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.responded {
		return
	}
	e.response = resp
	e.responded = true
}

// Response returns the substitute response, if the handler supplied one
func (e *Event) Response() (*http.Response, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.response, e.responded
}
