// Package procurement holds the status lifecycles for RFQs, quotes,
// commitments and approvals.
package procurement

import (
	"errors"
	"fmt"
	"strings"
)

type Status string

const (
	StatusDraft      Status = "Draft"
	StatusIssued     Status = "Issued"
	StatusInDelivery Status = "In Delivery"
	StatusClosed     Status = "Closed"

	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusRejected Status = "Rejected"
)

type Kind string

const (
	KindRFQ        Kind = "rfq"
	KindQuote      Kind = "quote"
	KindCommitment Kind = "commitment"
	KindApproval   Kind = "approval"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// TransitionError reports a rejected status change.
type TransitionError struct {
	Kind Kind
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot move from %q to %q", e.Kind, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// Delivery lifecycle: Draft -> Issued -> In Delivery -> Closed.
var deliveryFlow = map[Status][]Status{
	StatusDraft:      {StatusIssued},
	StatusIssued:     {StatusInDelivery},
	StatusInDelivery: {StatusClosed},
}

// Decision lifecycle: Pending -> Approved | Rejected.
var decisionFlow = map[Status][]Status{
	StatusPending: {StatusApproved, StatusRejected},
}

func flowFor(kind Kind) map[Status][]Status {
	switch kind {
	case KindRFQ, KindCommitment:
		return deliveryFlow
	case KindQuote, KindApproval:
		return decisionFlow
	default:
		return nil
	}
}

// Initial is the status a new record of kind starts in.
func Initial(kind Kind) Status {
	switch kind {
	case KindQuote, KindApproval:
		return StatusPending
	default:
		return StatusDraft
	}
}

// Next lists the statuses reachable from current.
func Next(kind Kind, current Status) []Status {
	next := flowFor(kind)[current]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// Terminal reports whether no transition leaves current.
func Terminal(kind Kind, current Status) bool {
	return len(flowFor(kind)[current]) == 0
}

// Transition validates moving a record of kind from one status to another.
func Transition(kind Kind, from, to Status) error {
	for _, allowed := range flowFor(kind)[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{Kind: kind, From: from, To: to}
}

// ParseStatus accepts any casing and underscores/dashes for spaces.
func ParseStatus(value string) (Status, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)
	for _, status := range []Status{
		StatusDraft, StatusIssued, StatusInDelivery, StatusClosed,
		StatusPending, StatusApproved, StatusRejected,
	} {
		if strings.ToLower(string(status)) == normalized {
			return status, true
		}
	}
	return "", false
}
