package notify

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

// LogNotifier only logs; used in development when no messaging service runs.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, msg appointment.Notification) (string, error) {
	id := uuid.NewString()
	n.logger.Info("notification",
		"notification_id", id,
		"recipient_id", msg.StudentID,
		"appointment_id", msg.AppointmentID,
		"body", messageBody(msg),
	)
	return id, nil
}
