package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"housebill/internal/notify"
)

// NotificationMessage wraps a notification for the broker. The ID lets
// consumers recognise redeliveries.
type NotificationMessage struct {
	ID           string              `json:"id"`
	Notification notify.Notification `json:"notification"`
	Timestamp    time.Time           `json:"timestamp"`
}

func NewNotificationMessage(n notify.Notification) *NotificationMessage {
	return &NotificationMessage{
		ID:           uuid.NewString(),
		Notification: n,
		Timestamp:    time.Now().UTC(),
	}
}

func (m *NotificationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// NotificationMessageFromJSON decodes a message and rejects ones without a
// kind, which no consumer could route.
func NotificationMessageFromJSON(data []byte) (*NotificationMessage, error) {
	var msg NotificationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Notification.Kind == "" {
		return nil, fmt.Errorf("notification message %s has no kind", msg.ID)
	}
	return &msg, nil
}
