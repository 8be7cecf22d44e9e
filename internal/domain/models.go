package domain

import "time"

// MessageType classifies the content of a message.
type MessageType string

const (
	MessageText    MessageType = "text"
	MessageImage   MessageType = "image"
	MessageVideo   MessageType = "video"
	MessageProduct MessageType = "product"
	MessageCall    MessageType = "call"
	MessageSystem  MessageType = "system"
)

// IsMedia reports whether the message carries an image or a video.
func (t MessageType) IsMedia() bool {
	return t == MessageImage || t == MessageVideo
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageProduct, MessageCall, MessageSystem:
		return true
	}
	return false
}

// Participant is the other side of a conversation as shown in the inbox.
// Online state is tracked separately and never stored here.
type Participant struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// LastMessage is the preview of the most recent message of a conversation.
type LastMessage struct {
	ID       string      `json:"id"`
	Content  string      `json:"content"`
	Type     MessageType `json:"type"`
	SenderID string      `json:"senderId"`
	SentAt   time.Time   `json:"sentAt"`
}

// Product is the marketplace item a conversation is about.
type Product struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

// ConversationSummary is one row of the inbox.
type ConversationSummary struct {
	ID                string       `json:"id"`
	OtherParticipant  Participant  `json:"otherParticipant"`
	LastMessage       *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount       int          `json:"unreadCount"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	AssociatedProduct *Product     `json:"associatedProduct,omitempty"`
	IsGroup           bool         `json:"isGroup"`
}

// Clone returns a copy that shares no pointers with s.
func (s ConversationSummary) Clone() ConversationSummary {
	c := s
	if s.LastMessage != nil {
		lm := *s.LastMessage
		c.LastMessage = &lm
	}
	if s.AssociatedProduct != nil {
		p := *s.AssociatedProduct
		c.AssociatedProduct = &p
	}
	return c
}

// Message is a single chat message as delivered by the push channel.
type Message struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	SenderID       string      `json:"senderId"`
	ReceiverID     string      `json:"receiverId,omitempty"`
	SentAt         time.Time   `json:"sentAt"`
	Edited         bool        `json:"edited,omitempty"`
}

// Preview converts the message into the summary's last message.
func (m Message) Preview() LastMessage {
	t := m.Type
	if t == "" {
		t = MessageText
	}
	return LastMessage{
		ID:       m.ID,
		Content:  m.Content,
		Type:     t,
		SenderID: m.SenderID,
		SentAt:   m.SentAt,
	}
}

// ConversationPatch is a partial summary; nil fields are left untouched.
type ConversationPatch struct {
	OtherParticipant  *Participant `json:"otherParticipant,omitempty"`
	LastMessage       *LastMessage `json:"lastMessage,omitempty"`
	UnreadCount       *int         `json:"unreadCount,omitempty"`
	UpdatedAt         *time.Time   `json:"updatedAt,omitempty"`
	AssociatedProduct *Product     `json:"associatedProduct,omitempty"`
	IsGroup           *bool        `json:"isGroup,omitempty"`
}

// User is an account of the reference backend.
type User struct {
	ID             string    `db:"id" json:"id"`
	Username       string    `db:"username" json:"username"`
	DisplayName    string    `db:"display_name" json:"displayName"`
	AvatarURL      string    `db:"avatar_url" json:"avatarUrl,omitempty"`
	HashedPassword string    `db:"hashed_password" json:"-"`
	IsActive       bool      `db:"is_active" json:"isActive"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}

// Participant returns the inbox view of the user.
func (u *User) Participant() Participant {
	name := u.DisplayName
	if name == "" {
		name = u.Username
	}
	return Participant{ID: u.ID, DisplayName: name, AvatarURL: u.AvatarURL}
}

// Conversation is a stored conversation of the reference backend.
type Conversation struct {
	ID        string    `db:"id"`
	IsGroup   bool      `db:"is_group"`
	Product   *Product  `db:"-"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ConversationMember is the per-user state of a conversation membership.
type ConversationMember struct {
	UserID         string     `db:"user_id"`
	ConversationID string     `db:"conversation_id"`
	UnreadCount    int        `db:"unread_count"`
	LastReadAt     *time.Time `db:"last_read_at"`
	Hidden         bool       `db:"hidden"`
}
