package models

import "time"

// Message is one record under /messages/{conversationKey}/{id}. The id is the
// record's key in the store, not a field of it. edited is always written so
// that only records predating the flag fall back to the text marker.
type Message struct {
	ID              string  `json:"-"`
	SenderID        string  `json:"senderId"`
	ReceiverID      string  `json:"receiverId"`
	Content         string  `json:"content"`
	Timestamp       int64   `json:"timestamp"`
	Read            *bool   `json:"read,omitempty"`
	ExpiryTimestamp *int64  `json:"expiryTimestamp,omitempty"`
	ImageBase64     *string `json:"imageBase64,omitempty"`
	Edited          bool    `json:"edited"`
}

// Unread is true only for an explicit read=false; a missing flag counts as read.
func (m Message) Unread() bool {
	return m.Read != nil && !*m.Read
}

func (m Message) Ephemeral() bool {
	return m.ExpiryTimestamp != nil
}

// Expired reports whether the expiry deadline has been reached at now.
func (m Message) Expired(now time.Time) bool {
	return m.ExpiryTimestamp != nil && now.UnixMilli() >= *m.ExpiryTimestamp
}

// Remaining is the countdown shown next to an ephemeral message; zero when
// the message has no deadline or is past it.
func (m Message) Remaining(now time.Time) time.Duration {
	if m.ExpiryTimestamp == nil {
		return 0
	}
	left := time.Duration(*m.ExpiryTimestamp-now.UnixMilli()) * time.Millisecond
	if left < 0 {
		return 0
	}
	return left
}

// WebSocket Message Structure
type WSMessage struct {
	Event       string         `json:"event"` // "open", "close", "roster", "send", "edit", "delete", "delete_conversation"
	Peer        string         `json:"peer,omitempty"`
	ID          string         `json:"id,omitempty"`
	Text        string         `json:"text,omitempty"`
	ImageBase64 string         `json:"image_base64,omitempty"`
	ExpiresIn   int            `json:"expires_in,omitempty"` // seconds
	Filter      string         `json:"filter,omitempty"`
	Timestamp   int64          `json:"timestamp,omitempty"`
	Revision    uint64         `json:"revision,omitempty"`
	Messages    []MessageItem  `json:"messages,omitempty"`
	Roster      []RosterItem   `json:"roster,omitempty"`
	OtherUser   *UserInfo      `json:"other_user,omitempty"`
	Error       string         `json:"error,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

// MessageItem is a message as rendered for one viewer.
type MessageItem struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	ImageBase64   *string `json:"image_base64,omitempty"`
	Timestamp     int64   `json:"timestamp"`
	IsYourMessage bool    `json:"is_your_message"`
	Read          bool    `json:"read"`
	Edited        bool    `json:"edited"`
	ExpiresIn     int64   `json:"expires_in,omitempty"` // seconds left
}

// NewMessageItem renders m for viewer at now.
func NewMessageItem(m Message, viewer string, now time.Time) MessageItem {
	return MessageItem{
		ID:            m.ID,
		Text:          m.Content,
		ImageBase64:   m.ImageBase64,
		Timestamp:     m.Timestamp,
		IsYourMessage: m.SenderID == viewer,
		Read:          !m.Unread(),
		Edited:        m.Edited,
		ExpiresIn:     int64(m.Remaining(now).Round(time.Second) / time.Second),
	}
}
