package models

// ConversationSummary is one roster line. It is derived from the message set
// on every change and never stored.
type ConversationSummary struct {
	PeerID        string `json:"peer_id"`
	DisplayName   string `json:"display_name"`
	LastTimestamp int64  `json:"last_timestamp"`
	UnreadCount   int    `json:"unread_count"`
}

type RosterFilter string

const (
	RosterAll    RosterFilter = "all"
	RosterUnread RosterFilter = "unread"
)

// ParseRosterFilter maps a client value to a filter; unknown values mean all.
func ParseRosterFilter(s string) RosterFilter {
	switch s {
	case "unread", "Unread":
		return RosterUnread
	default:
		return RosterAll
	}
}

// RosterItem is the wire form of a roster entry.
type RosterItem struct {
	ConversationSummary
	Online bool `json:"online"`
}

type SendMessageRequest struct {
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64"`
	ExpiresIn   int    `json:"expires_in"` // seconds, 0 = permanent
}

type EditMessageRequest struct {
	Text        string  `json:"text"`
	ImageBase64 *string `json:"image_base64"`
}

// NewMessageRequest addresses the recipient by display name.
type NewMessageRequest struct {
	RecipientName string `json:"recipient_name"`
	Text          string `json:"text"`
}

type SendMessageResponse struct {
	ID              string `json:"id"`
	ConversationKey string `json:"conversation_key"`
	Timestamp       int64  `json:"timestamp"`
	ExpiryTimestamp *int64 `json:"expiry_timestamp,omitempty"`
}
