package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeReplyItems_String(t *testing.T) {
	items, err := NormalizeReplyItems(json.RawMessage(`"Hello there"`))

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Hello there", items[0].Answer)
	assert.False(t, items[0].NeedsHumanSupport)
}

func TestNormalizeReplyItems_Object(t *testing.T) {
	raw := json.RawMessage(`{
		"answer": "Your order ships tomorrow",
		"images": ["https://cdn.example.com/a.png"],
		"needs_human_support": true,
		"extracted_customer_info": {"phone": "+995555123456"}
	}`)

	items, err := NormalizeReplyItems(raw)

	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Your order ships tomorrow", items[0].Answer)
	assert.Equal(t, []string{"https://cdn.example.com/a.png"}, items[0].Images)
	assert.True(t, items[0].NeedsHumanSupport)
	require.NotNil(t, items[0].ExtractedCustomerInfo)
	assert.Equal(t, "+995555123456", items[0].ExtractedCustomerInfo.Phone)
}

func TestNormalizeReplyItems_Array(t *testing.T) {
	raw := json.RawMessage(`[
		{"answer": "First part"},
		{"answer": "Second part", "current_handler": "human"},
		{"answer": ""}
	]`)

	items, err := NormalizeReplyItems(raw)

	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "First part", items[0].Answer)
	assert.Equal(t, "human", items[1].CurrentHandler)
	assert.Empty(t, items[2].Answer)
}

func TestNormalizeReplyItems_EmptyAndNull(t *testing.T) {
	for _, raw := range []string{"", "null", "  "} {
		items, err := NormalizeReplyItems(json.RawMessage(raw))
		assert.NoError(t, err, "raw=%q", raw)
		assert.Nil(t, items, "raw=%q", raw)
	}
}

func TestNormalizeReplyItems_UnrecognizedShape(t *testing.T) {
	_, err := NormalizeReplyItems(json.RawMessage(`42`))
	assert.Error(t, err)
}

func TestAssistantReply_WantsHuman(t *testing.T) {
	assert.False(t, (&AssistantReply{}).WantsHuman())
	assert.True(t, (&AssistantReply{NeedsHumanSupport: true}).WantsHuman())
	assert.True(t, (&AssistantReply{CurrentHandler: "human"}).WantsHuman())
	assert.False(t, (&AssistantReply{CurrentHandler: "chatbot"}).WantsHuman())
}

func TestAssistantClient_RequestReply(t *testing.T) {
	var gotPayload map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"success": true,
			"response": [{"answer": "On it"}],
			"needs_human_support": false
		}`))
	}))
	defer srv.Close()

	client := NewAssistantClient(srv.URL, 5*time.Second)
	reply, err := client.RequestReply(context.Background(), DispatchParams{
		CompanyID:      "co-1",
		ConversationID: "conv-1",
		PageID:         "page-1",
		CustomerID:     "cust-1",
	})

	require.NoError(t, err)
	assert.True(t, reply.Success)
	require.Len(t, reply.Items, 1)
	assert.Equal(t, "On it", reply.Items[0].Answer)
	assert.False(t, reply.WantsHuman())

	assert.Equal(t, map[string]string{
		"tenant_id":       "co-1",
		"conversation_id": "conv-1",
		"page_id":         "page-1",
		"customer_id":     "cust-1",
	}, gotPayload)
}

func TestAssistantClient_RequestReply_StringResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success": true, "response": "Plain answer", "current_handler": "human"}`))
	}))
	defer srv.Close()

	client := NewAssistantClient(srv.URL, 5*time.Second)
	reply, err := client.RequestReply(context.Background(), DispatchParams{ConversationID: "conv-2"})

	require.NoError(t, err)
	require.Len(t, reply.Items, 1)
	assert.Equal(t, "Plain answer", reply.Items[0].Answer)
	assert.True(t, reply.WantsHuman())
}

func TestAssistantClient_RequestReply_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewAssistantClient(srv.URL, 5*time.Second)
	_, err := client.RequestReply(context.Background(), DispatchParams{ConversationID: "conv-3"})

	assert.Error(t, err)
}
