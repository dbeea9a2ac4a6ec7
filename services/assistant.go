package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ExtractedCustomerInfo carries customer attributes the assistant pulled out
// of the conversation
type ExtractedCustomerInfo struct {
	Name            string   `json:"name,omitempty"`
	Phone           string   `json:"phone,omitempty"`
	Email           string   `json:"email,omitempty"`
	Address         string   `json:"address,omitempty"`
	PurchaseHistory []string `json:"purchase_history,omitempty"`
}

// ReplyItem is one normalized reply from the assistant. The collaborator
// signals "nothing to say" with an empty Answer, not by omitting the item.
type ReplyItem struct {
	Answer                string                 `json:"answer"`
	Images                []string               `json:"images,omitempty"`
	NeedsHumanSupport     bool                   `json:"needs_human_support,omitempty"`
	CurrentHandler        string                 `json:"current_handler,omitempty"`
	ExtractedCustomerInfo *ExtractedCustomerInfo `json:"extracted_customer_info,omitempty"`
}

// AssistantReply is the assistant's envelope after boundary normalization
type AssistantReply struct {
	Success           bool
	Items             []ReplyItem
	CurrentHandler    string
	NeedsHumanSupport bool
}

// WantsHuman reports whether the envelope asks for an escalation
func (r *AssistantReply) WantsHuman() bool {
	return r.NeedsHumanSupport || r.CurrentHandler == "human"
}

// assistantEnvelope is the raw wire shape; response is polymorphic
// (string | object | array) and only decoded by NormalizeReplyItems
type assistantEnvelope struct {
	Success           bool            `json:"success"`
	Response          json.RawMessage `json:"response"`
	CurrentHandler    string          `json:"current_handler,omitempty"`
	NeedsHumanSupport bool            `json:"needs_human_support,omitempty"`
}

// NormalizeReplyItems folds the three observed response shapes into one list
// of reply items. This happens once, at the boundary; nothing downstream ever
// sees the raw payload.
func NormalizeReplyItems(raw json.RawMessage) ([]ReplyItem, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("invalid string response: %w", err)
		}
		return []ReplyItem{{Answer: text}}, nil
	case '{':
		var item ReplyItem
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return nil, fmt.Errorf("invalid object response: %w", err)
		}
		return []ReplyItem{item}, nil
	case '[':
		var items []ReplyItem
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("invalid array response: %w", err)
		}
		return items, nil
	default:
		return nil, fmt.Errorf("unrecognized response shape: %s", snippet(trimmed))
	}
}

// AssistantClient calls the external AI orchestration endpoint. The request
// carries identifiers only; the assistant re-reads full context itself.
type AssistantClient struct {
	endpoint string
	client   *http.Client
}

// NewAssistantClient returns a client with the given bounded timeout. The
// timeout is the only cancellation bound on assistant calls.
func NewAssistantClient(endpoint string, timeout time.Duration) *AssistantClient {
	return &AssistantClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// RequestReply asks the assistant to respond to a conversation
func (c *AssistantClient) RequestReply(ctx context.Context, params DispatchParams) (*AssistantReply, error) {
	payload := map[string]string{
		"tenant_id":       params.CompanyID,
		"conversation_id": params.ConversationID,
		"page_id":         params.PageID,
		"customer_id":     params.CustomerID,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("assistant returned %s: %s", resp.Status, snippet(body))
	}

	var envelope assistantEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("malformed assistant envelope: %w", err)
	}

	items, err := NormalizeReplyItems(envelope.Response)
	if err != nil {
		return nil, err
	}

	return &AssistantReply{
		Success:           envelope.Success,
		Items:             items,
		CurrentHandler:    envelope.CurrentHandler,
		NeedsHumanSupport: envelope.NeedsHumanSupport,
	}, nil
}

func snippet(b []byte) string {
	if len(b) > 180 {
		return string(b[:180]) + "..."
	}
	return string(b)
}
