package webhooks

// WebhookEvent is the envelope of an inbound platform callback
type WebhookEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the events of one page in the envelope
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Messaging []Messaging `json:"messaging,omitempty"`
	Changes   []Change    `json:"changes,omitempty"`
}

// Messaging is one direct-message event
type Messaging struct {
	Sender    User     `json:"sender"`
	Recipient User     `json:"recipient"`
	Timestamp int64    `json:"timestamp"`
	Message   *Message `json:"message,omitempty"`
}

// User identifies a platform user
type User struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message carries the content of a direct message
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a media attachment on a direct message
type Attachment struct {
	Type    string  `json:"type"`
	Payload Payload `json:"payload"`
}

// Payload is the attachment payload
type Payload struct {
	URL string `json:"url"`
}

// Change is one feed change event
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue is the value of a feed change
type ChangeValue struct {
	Item        string `json:"item"`
	Verb        string `json:"verb"`
	CommentID   string `json:"comment_id"`
	PostID      string `json:"post_id"`
	ParentID    string `json:"parent_id"`
	SenderID    string `json:"sender_id"`
	SenderName  string `json:"sender_name"`
	Message     string `json:"message"`
	From        *User  `json:"from,omitempty"`
	CreatedTime int64  `json:"created_time"`
}
