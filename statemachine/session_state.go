package statemachine

import (
	"fmt"
	"strings"
)

// Phase is the authentication phase of a session
type Phase string

const (
	PhaseAnonymous     Phase = "anonymous"
	PhaseAuthenticated Phase = "authenticated"
)

// Event names the session operation that resolved
type Event string

const (
	EventLogin         Event = "login"
	EventRegister      Event = "register"
	EventFetchUser     Event = "fetch_current_user"
	EventLogout        Event = "logout"
	EventUpdateProfile Event = "update_profile"
	// EventSessionEnded is a forced logout: account gone, refresh failed or
	// role changed under an open session.
	EventSessionEnded Event = "session_ended"
)

// Outcome is how the operation resolved
type Outcome string

const (
	Fulfilled Outcome = "fulfilled"
	Rejected  Outcome = "rejected"
)

// Transition defines a valid phase change and the operation result causing it
type Transition struct {
	From    Phase
	Event   Event
	Outcome Outcome
	To      Phase
}

// validTransitions is the authoritative session machine definition
var validTransitions = []Transition{
	// Login and register succeed from either phase; failure leaves the phase alone
	{From: PhaseAnonymous, Event: EventLogin, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAnonymous, Event: EventLogin, Outcome: Rejected, To: PhaseAnonymous},
	{From: PhaseAuthenticated, Event: EventLogin, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAuthenticated, Event: EventLogin, Outcome: Rejected, To: PhaseAuthenticated},
	{From: PhaseAnonymous, Event: EventRegister, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAnonymous, Event: EventRegister, Outcome: Rejected, To: PhaseAnonymous},
	{From: PhaseAuthenticated, Event: EventRegister, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAuthenticated, Event: EventRegister, Outcome: Rejected, To: PhaseAuthenticated},
	// Re-validating a stored token
	{From: PhaseAnonymous, Event: EventFetchUser, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAnonymous, Event: EventFetchUser, Outcome: Rejected, To: PhaseAnonymous},
	{From: PhaseAuthenticated, Event: EventFetchUser, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAuthenticated, Event: EventFetchUser, Outcome: Rejected, To: PhaseAnonymous},
	// Profile edits need a session
	{From: PhaseAuthenticated, Event: EventUpdateProfile, Outcome: Fulfilled, To: PhaseAuthenticated},
	{From: PhaseAuthenticated, Event: EventUpdateProfile, Outcome: Rejected, To: PhaseAuthenticated},
	// Logout never rejects
	{From: PhaseAnonymous, Event: EventLogout, Outcome: Fulfilled, To: PhaseAnonymous},
	{From: PhaseAuthenticated, Event: EventLogout, Outcome: Fulfilled, To: PhaseAnonymous},
	{From: PhaseAnonymous, Event: EventSessionEnded, Outcome: Fulfilled, To: PhaseAnonymous},
	{From: PhaseAuthenticated, Event: EventSessionEnded, Outcome: Fulfilled, To: PhaseAnonymous},
}

type transitionKey struct {
	From    Phase
	Event   Event
	Outcome Outcome
}

var transitionMap = func() map[transitionKey]Phase {
	m := make(map[transitionKey]Phase, len(validTransitions))
	for _, t := range validTransitions {
		m[transitionKey{t.From, t.Event, t.Outcome}] = t.To
	}
	return m
}()

// Next returns the phase reached when event resolves with outcome in from.
func Next(from Phase, event Event, outcome Outcome) (Phase, error) {
	if to, ok := transitionMap[transitionKey{from, event, outcome}]; ok {
		return to, nil
	}
	return from, fmt.Errorf("invalid transition: %s %s in phase %s is not allowed. Valid events from %s are: %s",
		event, outcome, from, from, describeValidFrom(from))
}

// Allows reports whether event may be started in phase from.
func Allows(from Phase, event Event) bool {
	for _, t := range validTransitions {
		if t.From == from && t.Event == event {
			return true
		}
	}
	return false
}

// EventsFrom returns the events accepted in a phase, in table order.
func EventsFrom(phase Phase) []Event {
	var events []Event
	seen := map[Event]bool{}
	for _, t := range validTransitions {
		if t.From == phase && !seen[t.Event] {
			events = append(events, t.Event)
			seen[t.Event] = true
		}
	}
	return events
}

func describeValidFrom(phase Phase) string {
	events := EventsFrom(phase)
	if len(events) == 0 {
		return "none"
	}
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

// GetAllTransitions returns the full state machine for documentation
func GetAllTransitions() []Transition {
	out := make([]Transition, len(validTransitions))
	copy(out, validTransitions)
	return out
}
