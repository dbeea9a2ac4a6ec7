package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/models"
)

// seedConversation runs one customer message through the pipeline and returns
// the dispatch params the dispatcher would fire with
func seedConversation(t *testing.T, f *pipelineFixture) DispatchParams {
	t.Helper()

	require.NoError(t, f.processor.HandleMessage(context.Background(), f.company, f.page,
		messageEvent("seed-mid", "cust-1", "hello")))

	var convID string
	for id := range f.store.convs {
		convID = id
	}
	require.NotEmpty(t, convID)

	return DispatchParams{
		CompanyID:      f.company.CompanyID,
		ConversationID: convID,
		PageID:         f.page.PageID,
		CustomerID:     "cust-1",
	}
}

func TestProcessAssistantReply_DeliversEachItem(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	reply := &AssistantReply{
		Success: true,
		Items: []ReplyItem{
			{Answer: "Hi! Checking that for you."},
			{Answer: "Your order ships tomorrow."},
		},
	}

	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	assert.Equal(t, 2, f.social.sentCount())
	// seed message + two chatbot replies
	assert.Equal(t, 3, f.store.messageCount())
	assert.Equal(t, 3, f.ws.countByType(EventNewMessage))

	conv := f.store.conversation(t, params.ConversationID)
	assert.Equal(t, models.HandlerChatbot, conv.CurrentHandler)
	assert.Equal(t, 0, conv.UnreadCustomerMessages)
	assert.Equal(t, "Your order ships tomorrow.", conv.LastMessageText)
	assert.Equal(t, models.SenderChatbot, conv.LastMessageFrom)
}

func TestProcessAssistantReply_EmptyAnswerIsSkipped(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	reply := &AssistantReply{
		Success: true,
		Items:   []ReplyItem{{Answer: "  "}, {Answer: ""}},
	}

	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	assert.Equal(t, 0, f.social.sentCount())
	assert.Equal(t, 1, f.store.messageCount())
}

func TestProcessAssistantReply_EscalatesExactlyOnce(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	// Two items both flag for a human; the envelope decision applies once,
	// after all items are delivered
	reply := &AssistantReply{
		Success:           true,
		NeedsHumanSupport: true,
		Items: []ReplyItem{
			{Answer: "Let me get a colleague.", NeedsHumanSupport: true},
			{Answer: "One moment please.", NeedsHumanSupport: true},
		},
	}

	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	assert.Equal(t, 2, f.social.sentCount())
	assert.Equal(t, 1, f.ws.countByType(EventConversationEscalated))

	conv := f.store.conversation(t, params.ConversationID)
	assert.Equal(t, models.HandlerHuman, conv.CurrentHandler)
	assert.True(t, conv.NeedsAttention)
	assert.True(t, conv.EscalatedFromBot)
	assert.False(t, f.processor.Dispatcher().Pending(params.ConversationID))
}

func TestProcessAssistantReply_EnvelopeHandlerTriggersEscalation(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	reply := &AssistantReply{
		Success:        true,
		CurrentHandler: "human",
		Items:          []ReplyItem{{Answer: "Transferring you now."}},
	}

	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	conv := f.store.conversation(t, params.ConversationID)
	assert.Equal(t, models.HandlerHuman, conv.CurrentHandler)
	assert.Equal(t, 1, f.ws.countByType(EventConversationEscalated))
}

func TestProcessAssistantReply_DroppedWhenHumanTookOver(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	staff := &models.User{UserID: "staff-1", FullName: "Nino B", CompanyID: "co-1"}
	_, err := f.processor.AssignConversation(context.Background(), params.ConversationID, staff)
	require.NoError(t, err)

	reply := &AssistantReply{Success: true, Items: []ReplyItem{{Answer: "Too late"}}}
	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	assert.Equal(t, 0, f.social.sentCount())
	assert.Equal(t, 1, f.store.messageCount())
}

func TestProcessAssistantReply_DroppedWhenClosed(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	_, err := f.processor.CloseConversation(context.Background(), params.ConversationID)
	require.NoError(t, err)

	reply := &AssistantReply{Success: true, Items: []ReplyItem{{Answer: "Too late"}}}
	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	assert.Equal(t, 0, f.social.sentCount())
}

func TestProcessAssistantReply_MergesExtractedCustomerInfo(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	reply := &AssistantReply{
		Success: true,
		Items: []ReplyItem{{
			Answer: "Saved your number.",
			ExtractedCustomerInfo: &ExtractedCustomerInfo{
				Phone: "+995555123456",
			},
		}},
	}

	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	require.Len(t, f.store.merges, 1)
	assert.Equal(t, "+995555123456", f.store.merges[0].Phone)
}

func TestProcessAssistantReply_CommentThreadRepliesUnderLastComment(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleComment(ctx, f.company, f.page, InboundComment{
		CommentID:  "c-1",
		PostID:     "post-A",
		SenderID:   "cust-1",
		SenderName: "Tamar G",
		Text:       "price?",
		SentAt:     time.Now(),
	}))

	var convID string
	for id := range f.store.convs {
		convID = id
	}

	reply := &AssistantReply{Success: true, Items: []ReplyItem{{Answer: "It's 49 GEL."}}}
	f.processor.ProcessAssistantReply(ctx, DispatchParams{
		CompanyID:      f.company.CompanyID,
		ConversationID: convID,
		PageID:         f.page.PageID,
		CustomerID:     "cust-1",
	}, reply)

	require.Len(t, f.social.commentReply, 1)
	assert.Equal(t, "c-1", f.social.commentReply[0])
	assert.Equal(t, 0, f.social.sentCount())
}

func TestProcessAssistantReply_DeliveryFailureStillRecorded(t *testing.T) {
	f := newPipelineFixture(t)
	params := seedConversation(t, f)

	f.social.sendErr = fmt.Errorf("platform unavailable")

	reply := &AssistantReply{Success: true, Items: []ReplyItem{{Answer: "Hello!"}}}
	f.processor.ProcessAssistantReply(context.Background(), params, reply)

	// The reply is kept with its failure status for staff visibility
	assert.Equal(t, 2, f.store.messageCount())

	var failed *models.Message
	f.store.mu.Lock()
	for _, msg := range f.store.messages {
		if msg.SenderType == models.SenderChatbot {
			failed = msg
		}
	}
	f.store.mu.Unlock()

	require.NotNil(t, failed)
	assert.Equal(t, models.DeliveryFailed, failed.DeliveryStatus)
	assert.Empty(t, failed.ExternalID)
}
