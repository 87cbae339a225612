package services

import (
	"github.com/toursync/agent/internal/models"
	"github.com/toursync/agent/internal/observability"
)

// Notifier forwards user-facing sync messages to connected UI clients and
// mirrors them into the structured log
type Notifier struct {
	hub    *EventHub
	logger *observability.Logger
}

// NewNotifier creates a new Notifier
func NewNotifier(hub *EventHub, logger *observability.Logger) *Notifier {
	return &Notifier{hub: hub, logger: logger}
}

// Notify pushes a message at the given severity
func (n *Notifier) Notify(severity models.Severity, message string) {
	switch severity {
	case models.SeverityWarning:
		n.logger.Warn(message)
	case models.SeverityError:
		n.logger.Error(message)
	default:
		n.logger.Info(message)
	}

	if n.hub != nil {
		n.hub.Broadcast(WSMessage{
			Type:    WSTypeNotification,
			Payload: models.Notification{Severity: severity, Message: message},
		})
	}
}

// Info pushes an informational message
func (n *Notifier) Info(message string) {
	n.Notify(models.SeverityInfo, message)
}

// Success pushes a success message
func (n *Notifier) Success(message string) {
	n.Notify(models.SeveritySuccess, message)
}

// Warning pushes a warning
func (n *Notifier) Warning(message string) {
	n.Notify(models.SeverityWarning, message)
}

// Failure pushes an error message
func (n *Notifier) Failure(message string) {
	n.Notify(models.SeverityError, message)
}
