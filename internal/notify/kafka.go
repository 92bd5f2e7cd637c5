package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

// KafkaNotifier publishes cancellation notices for the messaging service to consume.
// The returned id is the event_id header of the published message.
type KafkaNotifier struct {
	writer *kafka.Writer
}

func NewKafkaNotifier(brokers, topic string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(SplitBrokers(brokers)...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

type cancellationEvent struct {
	EventID             string    `json:"event_id"`
	AppointmentID       string    `json:"appointment_id"`
	PropertyID          string    `json:"property_id"`
	StudentID           string    `json:"student_id"`
	OwnerID             string    `json:"owner_id"`
	AppointmentDateTime time.Time `json:"appointment_date_time"`
	Summary             string    `json:"summary"`
	Reason              string    `json:"reason"`
}

func (n *KafkaNotifier) Notify(ctx context.Context, msg appointment.Notification) (string, error) {
	eventID := uuid.NewString()
	value, err := json.Marshal(cancellationEvent{
		EventID:             eventID,
		AppointmentID:       msg.AppointmentID.String(),
		PropertyID:          msg.PropertyID.String(),
		StudentID:           msg.StudentID.String(),
		OwnerID:             msg.OwnerID.String(),
		AppointmentDateTime: msg.AppointmentDateTime,
		Summary:             msg.Summary,
		Reason:              msg.Reason,
	})
	if err != nil {
		return "", err
	}

	km := kafka.Message{
		// keyed by student so one recipient's notices stay ordered
		Key:   []byte(msg.StudentID.String()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("appointment.cancelled")},
		},
	}
	km.Headers = injectTraceHeaders(ctx, km.Headers)

	if err := n.writer.WriteMessages(ctx, km); err != nil {
		return "", err
	}
	return eventID, nil
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func injectTraceHeaders(ctx context.Context, headers []kafka.Header) []kafka.Header {
	carrier := &headerCarrier{headers: headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return carrier.headers
}

type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}

func (c *headerCarrier) Set(key, value string) {
	for i := range c.headers {
		if c.headers[i].Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

var _ propagation.TextMapCarrier = (*headerCarrier)(nil)
