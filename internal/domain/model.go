package domain

import (
	"time"
)

// ConnectionStatus is the lifecycle state of a connection edge.
type ConnectionStatus string

const (
	StatusPending  ConnectionStatus = "pending"
	StatusAccepted ConnectionStatus = "accepted"
	StatusRejected ConnectionStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusRejected:
		return true
	}
	return false
}

// MessageType classifies message content.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeFile  MessageType = "file"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile:
		return true
	}
	return false
}

// PairKey identifies an unordered pair of identities. Both directions of a
// relationship or conversation share the same key.
func PairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ConnectionModel is the GORM model for the connections table.
// pair_key is unique so at most one edge exists per unordered pair.
type ConnectionModel struct {
	ID              string     `gorm:"primaryKey;type:varchar(36)"`
	PairKey         string     `gorm:"column:pair_key;type:varchar(80);not null;uniqueIndex"`
	RequesterID     string     `gorm:"column:requester_id;type:varchar(36);not null;index:idx_conn_requester_status"`
	RecipientID     string     `gorm:"column:recipient_id;type:varchar(36);not null;index:idx_conn_recipient_status"`
	Status          string     `gorm:"column:status;type:varchar(16);not null;index:idx_conn_requester_status;index:idx_conn_recipient_status"`
	Message         string     `gorm:"column:message;type:varchar(500)"`
	ResponseMessage string     `gorm:"column:response_message;type:varchar(500)"`
	CreatedAt       time.Time  `gorm:"autoCreateTime"`
	RespondedAt     *time.Time `gorm:"column:responded_at"`
}

func (ConnectionModel) TableName() string { return "connections" }

// MembershipModel materializes the symmetric accepted relation.
// An accepted edge owns exactly two rows: (a, b) and (b, a).
type MembershipModel struct {
	UserID       string    `gorm:"primaryKey;column:user_id;type:varchar(36)"`
	PeerID       string    `gorm:"primaryKey;column:peer_id;type:varchar(36)"`
	ConnectionID string    `gorm:"column:connection_id;type:varchar(36);not null;index"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
}

func (MembershipModel) TableName() string { return "connection_members" }

// MessageModel is the GORM model for the messages table.
type MessageModel struct {
	ID              string     `gorm:"primaryKey;type:varchar(26)"`
	ConversationKey string     `gorm:"column:conversation_key;type:varchar(80);not null;index:idx_msg_conversation,priority:1"`
	SenderID        string     `gorm:"column:sender_id;type:varchar(36);not null"`
	RecipientID     string     `gorm:"column:recipient_id;type:varchar(36);not null;index:idx_msg_unread,priority:1"`
	Content         string     `gorm:"column:content;type:text;not null"`
	MessageType     string     `gorm:"column:message_type;type:varchar(16);not null"`
	Read            bool       `gorm:"column:is_read;not null;default:false;index:idx_msg_unread,priority:2"`
	ReadAt          *time.Time `gorm:"column:read_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;not null;index:idx_msg_conversation,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

// Connection is the domain representation of a connection edge.
type Connection struct {
	ID              string           `json:"id"`
	RequesterID     string           `json:"requesterId"`
	RecipientID     string           `json:"recipientId"`
	Status          ConnectionStatus `json:"status"`
	Message         string           `json:"message,omitempty"`
	ResponseMessage string           `json:"responseMessage,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	RespondedAt     *time.Time       `json:"respondedAt,omitempty"`
}

// Involves reports whether userID is a party to the edge.
func (c *Connection) Involves(userID string) bool {
	return c.RequesterID == userID || c.RecipientID == userID
}

// Other returns the party that is not userID.
func (c *Connection) Other(userID string) string {
	if c.RequesterID == userID {
		return c.RecipientID
	}
	return c.RequesterID
}

// Peer is an accepted connection seen from one side.
type Peer struct {
	UserID       string    `json:"userId"`
	ConnectionID string    `json:"connectionId"`
	Since        time.Time `json:"since"`
}

// Message is a persisted direct message.
type Message struct {
	ID          string      `json:"id"`
	SenderID    string      `json:"senderId"`
	RecipientID string      `json:"recipientId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	CreatedAt   time.Time   `json:"createdAt"`
	Read        bool        `json:"read"`
	ReadAt      *time.Time  `json:"readAt,omitempty"`
}

// MessagePage is one page of a conversation, oldest first.
type MessagePage struct {
	Messages []*Message `json:"messages"`
	Page     int        `json:"page"`
	Limit    int        `json:"limit"`
	Total    int64      `json:"total"`
	HasMore  bool       `json:"hasMore"`
}

// ConversationSummary is one row of a user's chat list.
type ConversationSummary struct {
	PeerID       string    `json:"peerId"`
	ConnectionID string    `json:"connectionId"`
	LastMessage  *Message  `json:"lastMessage,omitempty"`
	UnreadCount  int64     `json:"unreadCount"`
	Online       bool      `json:"online"`
	Since        time.Time `json:"since"`
}

// LastActivity is the time used to order the chat list, at millisecond
// precision like message timestamps.
func (s *ConversationSummary) LastActivity() time.Time {
	if s.LastMessage != nil {
		return s.LastMessage.CreatedAt.Truncate(time.Millisecond)
	}
	return s.Since.Truncate(time.Millisecond)
}

// MoreRecent reports whether s ranks above o in the chat list. On equal
// activity a conversation with messages ranks above a bare connection, and
// message ids order two conversations.
func (s *ConversationSummary) MoreRecent(o *ConversationSummary) bool {
	a, b := s.LastActivity(), o.LastActivity()
	if !a.Equal(b) {
		return a.After(b)
	}
	switch {
	case s.LastMessage != nil && o.LastMessage != nil:
		return s.LastMessage.ID > o.LastMessage.ID
	case s.LastMessage != nil || o.LastMessage != nil:
		return s.LastMessage != nil
	}
	return s.PeerID < o.PeerID
}

// ToDomain converts the GORM model.
func (m *ConnectionModel) ToDomain() *Connection {
	return &Connection{
		ID:              m.ID,
		RequesterID:     m.RequesterID,
		RecipientID:     m.RecipientID,
		Status:          ConnectionStatus(m.Status),
		Message:         m.Message,
		ResponseMessage: m.ResponseMessage,
		CreatedAt:       m.CreatedAt,
		RespondedAt:     m.RespondedAt,
	}
}

// ToDomain converts the GORM model.
func (m *MessageModel) ToDomain() *Message {
	return &Message{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		Content:     m.Content,
		MessageType: MessageType(m.MessageType),
		CreatedAt:   m.CreatedAt,
		Read:        m.Read,
		ReadAt:      m.ReadAt,
	}
}

// MessageModelFrom builds the GORM row for msg.
func MessageModelFrom(msg *Message) *MessageModel {
	return &MessageModel{
		ID:              msg.ID,
		ConversationKey: PairKey(msg.SenderID, msg.RecipientID),
		SenderID:        msg.SenderID,
		RecipientID:     msg.RecipientID,
		Content:         msg.Content,
		MessageType:     string(msg.MessageType),
		Read:            msg.Read,
		ReadAt:          msg.ReadAt,
		CreatedAt:       msg.CreatedAt,
	}
}
