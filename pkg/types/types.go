package types

import (
	"time"
)

// GlobalRoomID is the reserved ID of the room every user belongs to.
const GlobalRoomID uint64 = 1

// Room types
const (
	RoomTypeGlobal = "global"
	RoomTypeDirect = "direct"
)

// Message types accepted by the chat core
const (
	MessageTypeText  = "text"
	MessageTypeImage = "image"
)

// User roles as stored by the platform's user directory
const (
	RoleCounselor    = "Counselor"
	RolePsychiatrist = "Psychiatrist"
	RoleClient       = "Client"
	RoleAdmin        = "Admin"
)

// Server -> client event names
const (
	EventConnected          = "connected"
	EventNewMessage         = "new_message"
	EventMessageRead        = "message_read"
	EventUnreadCountUpdated = "unread_count_updated"
	EventUserJoinedRoom     = "user_joined_room"
	EventUserLeftRoom       = "user_left_room"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventJoinedRoom         = "joined_room"
	EventLeftRoom           = "left_room"
	EventError              = "error"
)

// Client -> server event names
const (
	EventJoinRoom    = "join_room"
	EventLeaveRoom   = "leave_room"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventMarkAsRead  = "mark_as_read"
	EventSendMessage = "send_message"
)

// User is the read-only profile the chat core needs from the user directory.
type User struct {
	ID        uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"size:100;not null"`
	Nickname  *string   `json:"nickname,omitempty" gorm:"size:100"`
	AvatarURL string    `json:"avatar" gorm:"column:avatar;size:500"`
	Role      string    `json:"role" gorm:"size:20;not null;index"`
	CreatedAt time.Time `json:"createdAt"`
}

// DisplayName returns the nickname for clients that set one, otherwise the name.
func (u *User) DisplayName() string {
	if u.Role == RoleClient && u.Nickname != nil && *u.Nickname != "" {
		return *u.Nickname
	}
	return u.Name
}

// IsCounselor reports whether the user may own the counselor side of a direct room.
func (u *User) IsCounselor() bool {
	return u.Role == RoleCounselor || u.Role == RolePsychiatrist
}

// ChatRoom is either the global room or a direct room between one
// counselor and one client. Participants never change after creation.
type ChatRoom struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	Type        string    `json:"type" gorm:"size:10;not null"`
	CounselorID *uint64   `json:"counselorId,omitempty" gorm:"uniqueIndex:idx_chat_rooms_pair"`
	ClientID    *uint64   `json:"clientId,omitempty" gorm:"uniqueIndex:idx_chat_rooms_pair"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

// HasParticipant reports whether userID is one of the two direct-room participants.
func (r *ChatRoom) HasParticipant(userID uint64) bool {
	if r.CounselorID != nil && *r.CounselorID == userID {
		return true
	}
	return r.ClientID != nil && *r.ClientID == userID
}

// ChatMessage is an immutable entry of a room's log. ID order is the
// canonical order within a room and doubles as the read cursor.
type ChatMessage struct {
	ID          uint64    `json:"id" gorm:"primaryKey;autoIncrement"`
	RoomID      uint64    `json:"roomId" gorm:"not null;index:idx_chat_messages_room_id,priority:1"`
	SenderID    uint64    `json:"senderId" gorm:"not null;index"`
	Message     string    `json:"message" gorm:"type:text;not null"`
	MessageType string    `json:"messageType" gorm:"size:10;not null"`
	CreatedAt   time.Time `json:"createdAt"`
}

func (ChatMessage) TableName() string { return "chat_messages" }

// ReadPointer is the high-water mark of what a user has read in a room.
// A nil LastMessageID means nothing has been read yet.
type ReadPointer struct {
	UserID        uint64    `json:"userId" gorm:"primaryKey;autoIncrement:false"`
	RoomID        uint64    `json:"roomId" gorm:"primaryKey;autoIncrement:false;index"`
	LastMessageID *uint64   `json:"lastMessageId"`
	ReadAt        time.Time `json:"readAt"`
}

func (ReadPointer) TableName() string { return "chat_read_pointers" }

// MessageWithSender is a message enriched with the sender's display metadata.
type MessageWithSender struct {
	ChatMessage
	SenderName   string `json:"senderName"`
	SenderAvatar string `json:"senderAvatar"`
	SenderRole   string `json:"senderRole"`
}

// MessagePage is one page of a room's history in chronological order.
type MessagePage struct {
	Messages []*MessageWithSender `json:"messages"`
	HasMore  bool                 `json:"hasMore"`
}

// Room summary kinds
const (
	SummaryKindGlobal    = "global"
	SummaryKindCounselor = "counselor"
	SummaryKindClient    = "client"
)

// RoomSummary is one row of a user's room list. Direct rooms carry exactly
// one of CounselorView or ClientView depending on the viewer's side.
type RoomSummary struct {
	RoomID        uint64     `json:"roomId"`
	RoomType      string     `json:"roomType"`
	Kind          string     `json:"kind"`
	Title         string     `json:"title"`
	LastMessage   *string    `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	UnreadCount   int64      `json:"unreadCount"`

	*CounselorView
	*ClientView
}

// CounselorView is what the counselor side sees about the other participant.
type CounselorView struct {
	ClientID     uint64 `json:"clientId"`
	ClientName   string `json:"clientName"`
	ClientAvatar string `json:"clientAvatar"`
}

// ClientView is what the client side sees about the other participant.
type ClientView struct {
	CounselorID     uint64 `json:"counselorId"`
	CounselorName   string `json:"counselorName"`
	CounselorAvatar string `json:"counselorAvatar"`
	CounselorRole   string `json:"counselorRole"`
}

// Identity is a verified caller as resolved from a bearer token.
type Identity struct {
	UserID uint64 `json:"userId"`
	Name   string `json:"name"`
	Avatar string `json:"avatar"`
	Role   string `json:"role"`
}

// Event is the envelope of every socket frame in both directions.
type Event struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// ReadReceipt is the outcome of a mark-as-read call.
type ReadReceipt struct {
	RoomID         uint64    `json:"roomId"`
	UserID         uint64    `json:"userId"`
	MessageID      uint64    `json:"messageId"`
	UnreadCount    int64     `json:"unreadCount"`
	ReadAt         time.Time `json:"readAt"`
	RoomDelivered  int       `json:"-"`
	OwnerDelivered int       `json:"-"`
}
