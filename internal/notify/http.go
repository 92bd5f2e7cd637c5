package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hackgods/property-visit-scheduling/internal/appointment"
)

// HTTPNotifier posts messages to the platform messaging service.
type HTTPNotifier struct {
	url   string
	token string
	http  *http.Client
}

func NewHTTPNotifier(baseURL, token string, timeout time.Duration) *HTTPNotifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPNotifier{
		url:   strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/messages",
		token: strings.TrimSpace(token),
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

type messageRequest struct {
	RecipientID   string `json:"recipient_id"`
	SenderID      string `json:"sender_id"`
	Subject       string `json:"subject"`
	Body          string `json:"body"`
	AppointmentID string `json:"appointment_id"`
	PropertyID    string `json:"property_id"`
}

type messageResponse struct {
	ID string `json:"id"`
}

func (n *HTTPNotifier) Notify(ctx context.Context, msg appointment.Notification) (string, error) {
	raw, err := json.Marshal(messageRequest{
		RecipientID:   msg.StudentID.String(),
		SenderID:      msg.OwnerID.String(),
		Subject:       "Visit cancelled",
		Body:          messageBody(msg),
		AppointmentID: msg.AppointmentID.String(),
		PropertyID:    msg.PropertyID.String(),
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("messaging service returned %d", resp.StatusCode)
	}

	var out messageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode messaging response: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("messaging service returned no message id")
	}
	return out.ID, nil
}

func messageBody(msg appointment.Notification) string {
	if msg.Reason == "" {
		return msg.Summary
	}
	return msg.Summary + "\nReason: " + msg.Reason
}
