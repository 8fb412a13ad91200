package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
)

// Notification mirrors the delivery subsystem's intake shape. Delivery is
// owned elsewhere; the engine only hands messages over.
type Notification struct {
	UserID  uuid.UUID
	ActorID uuid.UUID
	Type    string
	Title   string
	Body    string
	Data    map[string]string
}

// Notifier is fire-and-forget: callers invoke it after their transaction
// commits and must never let a delivery failure unwind settled money.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the process log. It stands in until
// the delivery subsystem is wired up and in tests.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	log.Printf("notify user=%s type=%s title=%q", n.UserID, n.Type, n.Title)
}
