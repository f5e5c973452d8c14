// Package realtime fans row changes out to change-feed subscribers, either
// in-process or through a RabbitMQ topic exchange.
package realtime

import (
	"context"
	"strings"
	"time"
)

type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// Change is one row-level write.
type Change struct {
	Table     string     `json:"table"`
	Type      ChangeType `json:"type"`
	ProjectID string     `json:"projectId,omitempty"`
	CompanyID string     `json:"companyId,omitempty"`
	Record    any        `json:"record"`
	At        time.Time  `json:"at"`
}

func NewChange(table string, kind ChangeType, projectID string, record any) Change {
	return Change{
		Table:     table,
		Type:      kind,
		ProjectID: projectID,
		Record:    record,
		At:        time.Now().UTC(),
	}
}

// RoutingKey is the topic key for the change, e.g. "change.tasks.update".
func (c Change) RoutingKey() string {
	return "change." + c.Table + "." + strings.ToLower(string(c.Type))
}

// Publisher accepts changes for delivery.
type Publisher interface {
	Publish(ctx context.Context, change Change) error
}
