package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-bot/models"
)

// fakeStore is an in-memory Store for pipeline tests
type fakeStore struct {
	mu        sync.Mutex
	messages  map[string]*models.Message // keyed by external ID
	convs     map[string]*models.Conversation
	customers map[string]*models.Customer
	merges    []ExtractedCustomerInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages:  make(map[string]*models.Message),
		convs:     make(map[string]*models.Conversation),
		customers: make(map[string]*models.Customer),
	}
}

func (s *fakeStore) ResolveCustomer(_ context.Context, in CustomerUpsert) (*models.Customer, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := in.CompanyID + "/" + in.PageID + "/" + in.CustomerID
	if c, ok := s.customers[key]; ok {
		// A placeholder name from a failed profile fetch never overwrites a
		// known customer
		if !in.ProfileStale {
			c.Name = in.Name
		}
		return c, false, nil
	}
	c := &models.Customer{
		CompanyID:  in.CompanyID,
		PageID:     in.PageID,
		PageName:   in.PageName,
		CustomerID: in.CustomerID,
		Name:       in.Name,
	}
	s.customers[key] = c
	return c, true, nil
}

func (s *fakeStore) resolve(customer *models.Customer, pageName, source, postID string) (*models.Conversation, bool) {
	for _, conv := range s.convs {
		if conv.CustomerID == customer.CustomerID &&
			conv.PageID == customer.PageID &&
			conv.Source == source &&
			conv.PostID == postID &&
			conv.Status == models.StatusOpen {
			return conv, false
		}
	}

	conv := &models.Conversation{
		ConversationID: uuid.New().String(),
		CompanyID:      customer.CompanyID,
		PageID:         customer.PageID,
		PageName:       pageName,
		CustomerID:     customer.CustomerID,
		CustomerName:   customer.Name,
		Source:         source,
		PostID:         postID,
		Status:         models.StatusOpen,
		CurrentHandler: models.HandlerChatbot,
	}
	s.convs[conv.ConversationID] = conv
	return conv, true
}

func (s *fakeStore) ResolveMessengerConversation(_ context.Context, customer *models.Customer, pageName, threadID string) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, created := s.resolve(customer, pageName, models.SourceMessenger, "")
	if created {
		conv.ThreadID = threadID
	}
	return conv, created, nil
}

func (s *fakeStore) ResolveCommentConversation(_ context.Context, customer *models.Customer, pageName, postID string, post *PostMeta) (*models.Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, created := s.resolve(customer, pageName, models.SourceComment, postID)
	if created && post != nil {
		conv.PostContent = post.Content
	}
	return conv, created, nil
}

func (s *fakeStore) GetConversation(_ context.Context, conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	copied := *conv
	return &copied, nil
}

func (s *fakeStore) SeenEvent(_ context.Context, externalID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, seen := s.messages[externalID]
	return seen, nil
}

func (s *fakeStore) AppendMessage(_ context.Context, message *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if message.ExternalID != "" {
		if _, dup := s.messages[message.ExternalID]; dup {
			return false, nil
		}
	}
	key := message.ExternalID
	if key == "" {
		key = uuid.New().String()
	}
	s.messages[key] = message
	return true, nil
}

func (s *fakeStore) ApplyPatch(_ context.Context, conversationID string, patch ConversationPatch) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return nil, nil
	}
	patch.Apply(conv)
	copied := *conv
	return &copied, nil
}

func (s *fakeStore) MergeCustomerInfo(_ context.Context, _, _, _ string, info *ExtractedCustomerInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merges = append(s.merges, *info)
	return nil
}

func (s *fakeStore) messageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *fakeStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *fakeStore) conversation(t *testing.T, conversationID string) *models.Conversation {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	require.True(t, ok, "conversation %s not in store", conversationID)
	copied := *conv
	return &copied
}

// fakeSocial records outbound traffic
type fakeSocial struct {
	mu           sync.Mutex
	sent         []string // direct message texts
	commentReply []string // comment IDs replied under
	sendErr      error
	profileErr   error
	nextMID      int
}

func (f *fakeSocial) SendMessage(_ context.Context, _ *models.Page, _, text string, _ *models.Attachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, text)
	f.nextMID++
	return fmt.Sprintf("sent-mid-%d", f.nextMID), nil
}

func (f *fakeSocial) ReplyToComment(_ context.Context, _ *models.Page, commentID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.commentReply = append(f.commentReply, commentID)
	f.nextMID++
	return fmt.Sprintf("comment-reply-%d", f.nextMID), nil
}

func (f *fakeSocial) FetchProfile(_ context.Context, _ *models.Page, userID string) (*Profile, error) {
	if f.profileErr != nil {
		return nil, f.profileErr
	}
	return &Profile{ID: userID, FirstName: "Tamar", LastName: "G"}, nil
}

func (f *fakeSocial) FetchPost(_ context.Context, _ *models.Page, _ string) (*PostMeta, error) {
	return &PostMeta{Content: "Autumn sale"}, nil
}

func (f *fakeSocial) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// fakeBroadcaster records fan-out events
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []BroadcastMessage
}

func (b *fakeBroadcaster) BroadcastToCompany(companyID string, message BroadcastMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	message.CompanyID = companyID
	b.events = append(b.events, message)
}

func (b *fakeBroadcaster) countByType(eventType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, ev := range b.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// fakePages serves a fixed tenant
type fakePages struct {
	company *models.Company
	page    *models.Page
}

func (f *fakePages) ResolvePage(context.Context, string) (*models.Company, *models.Page, error) {
	return f.company, f.page, nil
}

type pipelineFixture struct {
	store     *fakeStore
	social    *fakeSocial
	ws        *fakeBroadcaster
	processor *EventProcessor
	company   *models.Company
	page      *models.Page
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	page := &models.Page{PageID: "page-1", PageName: "Demo Shop", BotEnabled: true, IsActive: true}
	company := &models.Company{
		CompanyID:  "co-1",
		IsActive:   true,
		BotEnabled: true,
		Pages:      []models.Page{*page},
	}

	store := newFakeStore()
	social := &fakeSocial{}
	ws := &fakeBroadcaster{}

	processor := NewEventProcessor(store, social, NewPassthroughMedia(), ws, &fakePages{company: company, page: page}, 2)

	// Long delays keep timers from firing mid-test; dispatch state is
	// asserted through Pending
	dispatcher := NewDispatcher(
		func(onFire func(key string)) Scheduler { return NewMemoryScheduler(onFire) },
		newRecordingAssistant(&AssistantReply{Success: true}),
		processor.ProcessAssistantReply,
		time.Second,
	)
	processor.SetDispatcher(dispatcher)
	t.Cleanup(dispatcher.Shutdown)

	return &pipelineFixture{
		store:     store,
		social:    social,
		ws:        ws,
		processor: processor,
		company:   company,
		page:      page,
	}
}

func messageEvent(mid, sender, text string) InboundMessage {
	return InboundMessage{
		MID:      mid,
		ThreadID: sender,
		SenderID: sender,
		Text:     text,
		SentAt:   time.Now(),
	}
}

func TestHandleMessage_NewConversation(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	err := f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello"))
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.messageCount())
	assert.Equal(t, 1, f.store.conversationCount())
	assert.Equal(t, 1, f.ws.countByType(EventNewConversation))
	assert.Equal(t, 1, f.ws.countByType(EventNewMessage))

	// Chatbot-handled open conversation on a bot-enabled page arms the timer
	for id := range f.store.convs {
		assert.True(t, f.processor.Dispatcher().Pending(id))
	}
}

func TestHandleMessage_DuplicateDeliveryIsNoop(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))
	eventsBefore := len(f.ws.events)
	messagesBefore := f.store.messageCount()

	// Same platform delivery, retried
	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))

	assert.Equal(t, messagesBefore, f.store.messageCount())
	assert.Equal(t, eventsBefore, len(f.ws.events))
	assert.Equal(t, 1, f.store.conversationCount())
}

func TestHandleMessage_EchoDiscarded(t *testing.T) {
	f := newPipelineFixture(t)

	ev := messageEvent("mid-echo", "page-1", "thanks for reaching out")
	ev.IsEcho = true

	require.NoError(t, f.processor.HandleMessage(context.Background(), f.company, f.page, ev))

	assert.Equal(t, 0, f.store.messageCount())
	assert.Equal(t, 0, f.store.conversationCount())
	assert.Empty(t, f.ws.events)
}

func TestHandleMessage_SecondMessageReusesConversation(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))
	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-2", "cust-1", "anyone there?")))

	assert.Equal(t, 1, f.store.conversationCount())
	assert.Equal(t, 2, f.store.messageCount())
	assert.Equal(t, 1, f.ws.countByType(EventNewConversation))
	assert.Equal(t, 2, f.ws.countByType(EventNewMessage))

	for id := range f.store.convs {
		conv := f.store.conversation(t, id)
		assert.Equal(t, 2, conv.TotalMessages)
		assert.Equal(t, "anyone there?", conv.LastMessageText)
	}
}

func TestHandleMessage_ProfileFailureFallsBackToPlaceholderName(t *testing.T) {
	f := newPipelineFixture(t)
	f.social.profileErr = fmt.Errorf("profile unavailable")

	require.NoError(t, f.processor.HandleMessage(context.Background(), f.company, f.page,
		messageEvent("mid-1", "1234567890", "hi")))

	customer := f.store.customers["co-1/page-1/1234567890"]
	require.NotNil(t, customer)
	assert.Equal(t, "User 12345678", customer.Name)
}

func TestHandleMessage_ProfileFailureKeepsKnownName(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page,
		messageEvent("mid-1", "cust-1", "hello")))

	// The platform flakes on the second fetch; the stored profile must win
	// over the placeholder
	f.social.profileErr = fmt.Errorf("profile unavailable")
	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page,
		messageEvent("mid-2", "cust-1", "still there?")))

	customer := f.store.customers["co-1/page-1/cust-1"]
	require.NotNil(t, customer)
	assert.Equal(t, "Tamar G", customer.Name)
	assert.Equal(t, "Tamar G", f.store.messages["mid-2"].SenderName)
}

func TestHandleMessage_HumanHandlerFlagsAttentionAndSkipsDispatch(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))

	var convID string
	for id := range f.store.convs {
		convID = id
	}

	// Staff takes the thread
	staff := &models.User{UserID: "staff-1", FullName: "Nino B", CompanyID: "co-1"}
	_, err := f.processor.AssignConversation(ctx, convID, staff)
	require.NoError(t, err)
	assert.False(t, f.processor.Dispatcher().Pending(convID))

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-2", "cust-1", "still waiting")))

	conv := f.store.conversation(t, convID)
	assert.Equal(t, models.HandlerHuman, conv.CurrentHandler)
	assert.True(t, conv.NeedsAttention)
	assert.Equal(t, 1, conv.UnreadCustomerMessages)
	assert.False(t, f.processor.Dispatcher().Pending(convID))
}

func TestHandleMessage_BotDisabledPageDoesNotArm(t *testing.T) {
	f := newPipelineFixture(t)
	f.page.BotEnabled = false

	require.NoError(t, f.processor.HandleMessage(context.Background(), f.company, f.page,
		messageEvent("mid-1", "cust-1", "hello")))

	for id := range f.store.convs {
		assert.False(t, f.processor.Dispatcher().Pending(id))
	}
}

func TestHandleComment_PageOwnCommentDiscarded(t *testing.T) {
	f := newPipelineFixture(t)

	ev := InboundComment{
		CommentID: "c-1",
		PostID:    "post-1",
		SenderID:  f.page.PageID,
		Text:      "our own reply",
		SentAt:    time.Now(),
	}

	require.NoError(t, f.processor.HandleComment(context.Background(), f.company, f.page, ev))
	assert.Equal(t, 0, f.store.messageCount())
	assert.Equal(t, 0, f.store.conversationCount())
}

func TestHandleComment_SeparatePostsSeparateConversations(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	comment := func(id, postID string) InboundComment {
		return InboundComment{
			CommentID:  id,
			PostID:     postID,
			SenderID:   "cust-1",
			SenderName: "Tamar G",
			Text:       "is this available?",
			SentAt:     time.Now(),
		}
	}

	require.NoError(t, f.processor.HandleComment(ctx, f.company, f.page, comment("c-1", "post-A")))
	require.NoError(t, f.processor.HandleComment(ctx, f.company, f.page, comment("c-2", "post-A")))
	require.NoError(t, f.processor.HandleComment(ctx, f.company, f.page, comment("c-3", "post-B")))

	assert.Equal(t, 2, f.store.conversationCount())
	assert.Equal(t, 3, f.store.messageCount())

	// Latest comment per thread is the reply target
	for id := range f.store.convs {
		conv := f.store.conversation(t, id)
		switch conv.PostID {
		case "post-A":
			assert.Equal(t, "c-2", conv.LastCommentID)
		case "post-B":
			assert.Equal(t, "c-3", conv.LastCommentID)
		}
	}
}

func TestHandleStaffMessage_SendsAndTakesOver(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))

	var convID string
	for id := range f.store.convs {
		convID = id
	}
	require.True(t, f.processor.Dispatcher().Pending(convID))

	staff := &models.User{UserID: "staff-1", FullName: "Nino B", CompanyID: "co-1"}
	msg, err := f.processor.HandleStaffMessage(ctx, f.company, f.page, convID, staff, "How can I help?")
	require.NoError(t, err)

	assert.Equal(t, models.SenderStaff, msg.SenderType)
	assert.Equal(t, "sent-mid-1", msg.ExternalID)
	assert.Equal(t, 1, f.social.sentCount())

	conv := f.store.conversation(t, convID)
	assert.Equal(t, models.HandlerHuman, conv.CurrentHandler)
	assert.True(t, conv.IsRead)
	assert.False(t, f.processor.Dispatcher().Pending(convID))
}

func TestHandleStaffMessage_CommentThreadWithoutReplyTarget(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	// A comment conversation that never recorded an inbound comment has
	// nothing to reply under
	conv := &models.Conversation{
		ConversationID: "conv-empty",
		CompanyID:      "co-1",
		PageID:         "page-1",
		CustomerID:     "cust-1",
		Source:         models.SourceComment,
		Status:         models.StatusOpen,
		CurrentHandler: models.HandlerChatbot,
	}
	f.store.convs[conv.ConversationID] = conv

	staff := &models.User{UserID: "staff-1", FullName: "Nino B", CompanyID: "co-1"}
	_, err := f.processor.HandleStaffMessage(ctx, f.company, f.page, conv.ConversationID, staff, "hello?")

	require.ErrorIs(t, err, ErrNoReplyTarget)
	assert.Equal(t, 0, f.store.messageCount())
	assert.Empty(t, f.social.commentReply)
}

func TestCloseConversation_CancelsPendingDispatch(t *testing.T) {
	f := newPipelineFixture(t)
	ctx := context.Background()

	require.NoError(t, f.processor.HandleMessage(ctx, f.company, f.page, messageEvent("mid-1", "cust-1", "hello")))

	var convID string
	for id := range f.store.convs {
		convID = id
	}
	require.True(t, f.processor.Dispatcher().Pending(convID))

	updated, err := f.processor.CloseConversation(ctx, convID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusClosed, updated.Status)
	assert.False(t, f.processor.Dispatcher().Pending(convID))
}
