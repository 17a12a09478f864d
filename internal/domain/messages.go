package domain

import "time"

// WebSocket message types from client.
const (
	MsgTypeSendMessage      = "send_message"
	MsgTypeTyping           = "typing"
	MsgTypeStopTyping       = "stop_typing"
	MsgTypeJoinChat         = "join_chat"
	MsgTypeLeaveChat        = "leave_chat"
	MsgTypeMarkMessagesRead = "mark_messages_read"
	MsgTypePing             = "ping"
)

// WebSocket message types to client.
const (
	MsgTypeNewMessage         = "new_message"
	MsgTypeMessageSent        = "message_sent"
	MsgTypeUserTyping         = "user_typing"
	MsgTypeMessagesRead       = "messages_read"
	MsgTypeUserStatusChange   = "user_status_change"
	MsgTypeOnlineUsers        = "online_users"
	MsgTypeNewChatAvailable   = "new_chat_available"
	MsgTypeChatListRefresh    = "chat_list_refresh"
	MsgTypeConnectionRequest  = "connection_request"
	MsgTypeConnectionRejected = "connection_rejected"
	MsgTypeChatJoined         = "chat_joined"
	MsgTypeChatLeft           = "chat_left"
	MsgTypeError              = "error"
	MsgTypeAuthError          = "auth_error"
	MsgTypePong               = "pong"
)

// Error codes
const (
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeTokenExpired  = "TOKEN_EXPIRED"
	ErrCodeTokenRevoked  = "TOKEN_REVOKED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInvalidState  = "INVALID_STATE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// BaseMessage is the base structure for all WebSocket messages.
type BaseMessage struct {
	Type string `json:"type"`
}

// Client -> Server messages

type SendMessageWS struct {
	Type            string      `json:"type"`
	RecipientID     string      `json:"recipientId"`
	Content         string      `json:"content"`
	MessageType     MessageType `json:"messageType"`
	ClientMessageID string      `json:"clientMessageId,omitempty"`
}

type TypingWS struct {
	Type        string `json:"type"`
	RecipientID string `json:"recipientId"`
}

type ChatRoomWS struct {
	Type        string `json:"type"`
	OtherUserID string `json:"otherUserId"`
}

type MarkMessagesReadWS struct {
	Type     string `json:"type"`
	SenderID string `json:"senderId"`
}

// Server -> Client messages

type NewMessageOut struct {
	Type    string   `json:"type"`
	Message *Message `json:"message"`
}

type MessageSentOut struct {
	Type            string   `json:"type"`
	Message         *Message `json:"message"`
	ClientMessageID string   `json:"clientMessageId,omitempty"`
}

type UserTypingOut struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type MessagesReadOut struct {
	Type   string    `json:"type"`
	ReadBy string    `json:"readBy"`
	Count  int64     `json:"count"`
	ReadAt time.Time `json:"readAt"`
}

type UserStatusChangeOut struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Status string `json:"status"`
}

type OnlineUsersOut struct {
	Type    string   `json:"type"`
	UserIDs []string `json:"userIds"`
}

type NewChatAvailableOut struct {
	Type         string `json:"type"`
	User         string `json:"user"`
	ConnectionID string `json:"connectionId"`
}

type ChatListRefreshOut struct {
	Type string `json:"type"`
}

type ConnectionRequestOut struct {
	Type       string      `json:"type"`
	Connection *Connection `json:"connection"`
}

type ConnectionRejectedOut struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	By           string `json:"by"`
}

type ChatRoomOut struct {
	Type        string `json:"type"`
	OtherUserID string `json:"otherUserId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type AuthErrorMessage struct {
	Type              string `json:"type"`
	Code              string `json:"code"`
	Message           string `json:"message"`
	DiscardCredential bool   `json:"discardCredential"`
}

func NewErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:    MsgTypeError,
		Code:    code,
		Message: message,
	}
}

// NewAuthErrorMessage tells the client to drop its stored credential.
func NewAuthErrorMessage(code, message string) *AuthErrorMessage {
	return &AuthErrorMessage{
		Type:              MsgTypeAuthError,
		Code:              code,
		Message:           message,
		DiscardCredential: true,
	}
}
