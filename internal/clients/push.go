package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-spacewx/internal/domain"
)

// PushMessage is one gateway notification
type PushMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Sound     string            `json:"sound"`
	Priority  string            `json:"priority"`
	ChannelID string            `json:"channelId"`
	Data      map[string]string `json:"data,omitempty"`
}

// PushTicket is the per-recipient result embedded in a gateway response
type PushTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
	Message string `json:"message,omitempty"`
	Details struct {
		Error string `json:"error,omitempty"`
	} `json:"details,omitempty"`
}

// PushClient delivers messages through an Expo-style push gateway
type PushClient struct {
	http        *HTTPClient
	url         string
	accessToken string
}

// NewPushClient creates a new push gateway client
func NewPushClient(url, accessToken string, timeout time.Duration) *PushClient {
	return &PushClient{
		http:        NewHTTPClient(timeout),
		url:         url,
		accessToken: accessToken,
	}
}

// Send posts one message. A non-2xx status and a non-ok ticket both return
// a *domain.DispatchError carrying the reason.
func (c *PushClient) Send(ctx context.Context, msg PushMessage) (*PushTicket, error) {
	headers := map[string]string{}
	if c.accessToken != "" {
		headers["Authorization"] = "Bearer " + c.accessToken
	}

	status, body, err := c.http.PostJSON(ctx, c.url, msg, headers)
	if err != nil {
		return nil, &domain.DispatchError{Reason: "transport:" + err.Error()}
	}
	if status < 200 || status > 299 {
		return nil, &domain.DispatchError{Reason: fmt.Sprintf("http_%d", status)}
	}

	ticket, err := parseTicket(body)
	if err != nil {
		return nil, &domain.DispatchError{Reason: "invalid_response:" + err.Error()}
	}
	if ticket.Status != "ok" {
		reason := fmt.Sprintf("%s:%s", ticket.Status, ticket.Message)
		if ticket.Details.Error != "" && ticket.Details.Error != ticket.Message {
			reason += " (" + ticket.Details.Error + ")"
		}
		return ticket, &domain.DispatchError{Reason: reason}
	}
	return ticket, nil
}

// parseTicket accepts {"data": {...}} and {"data": [{...}]}
func parseTicket(body []byte) (*PushTicket, error) {
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("missing ticket")
	}

	var ticket PushTicket
	if err := json.Unmarshal(envelope.Data, &ticket); err == nil {
		return &ticket, nil
	}
	var tickets []PushTicket
	if err := json.Unmarshal(envelope.Data, &tickets); err != nil {
		return nil, err
	}
	if len(tickets) == 0 {
		return nil, fmt.Errorf("missing ticket")
	}
	return &tickets[0], nil
}
