// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package lifecycle

import (
	"time"

	"github.com/danielhkuo/verivote/apperr"
	"github.com/danielhkuo/verivote/models"
)

// Event drives a transition.
type Event string

const (
	EventFreeze  Event = "freeze"
	EventPublish Event = "publish"
	EventCancel  Event = "cancel"
	EventClose   Event = "close"
	EventAnchor  Event = "anchor"
)

type edge struct {
	from  string
	event Event
}

var transitions = map[edge]string{
	{models.StatusDraft, EventFreeze}:   models.StatusFrozen,
	{models.StatusDraft, EventCancel}:   models.StatusCanceled,
	{models.StatusFrozen, EventCancel}:  models.StatusCanceled,
	{models.StatusFrozen, EventPublish}: models.StatusPublished,
	{models.StatusActive, EventClose}:   models.StatusClosed,
	{models.StatusClosed, EventAnchor}:  models.StatusAnchored,
}

// Next returns the state reached from 'from' on ev.
func Next(from string, ev Event) (string, error) {
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return "", apperr.New(apperr.KindConflict, apperr.CodeIllegalTransition,
			"cannot "+string(ev)+" a "+from+" poll")
	}
	return to, nil
}

// Effective is the status a reader should see: an active poll past its end
// time is closed even before finalize stores the transition.
func Effective(p *models.Poll, now time.Time) string {
	if p.Status == models.StatusActive && now.Unix() >= p.EndTS {
		return models.StatusClosed
	}
	return p.Status
}
