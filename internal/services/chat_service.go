package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"chat-sync/internal/metrics"
	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// legacyEditedMarker is what older clients appended to edited content instead
// of setting the edited flag.
const legacyEditedMarker = " (modifié)"

// DefaultEphemeralDurations is the self-destruct menu: off, 10s, 30s, 1 min.
var DefaultEphemeralDurations = []time.Duration{0, 10 * time.Second, 30 * time.Second, time.Minute}

// Directory resolves recipients for the compose-by-name flow.
type Directory interface {
	FindByName(ctx context.Context, name string) (string, error)
}

type ChatOptions struct {
	OpTimeout          time.Duration
	SweepInterval      time.Duration
	EphemeralDurations []time.Duration
	Directory          Directory
	Logger             *slog.Logger
	Now                func() time.Time
}

type ChatService struct {
	store         realtime.Store
	opTimeout     time.Duration
	sweepInterval time.Duration
	durations     []time.Duration
	directory     Directory
	logger        *slog.Logger
	now           func() time.Time
}

func NewChatService(store realtime.Store, opts ChatOptions) *ChatService {
	s := &ChatService{
		store:         store,
		opTimeout:     opts.OpTimeout,
		sweepInterval: opts.SweepInterval,
		durations:     opts.EphemeralDurations,
		directory:     opts.Directory,
		logger:        opts.Logger,
		now:           opts.Now,
	}
	if s.opTimeout <= 0 {
		s.opTimeout = 10 * time.Second
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = 3 * time.Second
	}
	if s.durations == nil {
		s.durations = DefaultEphemeralDurations
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// SendInput is one outgoing message. ImageBase64 may carry a JPEG payload
// alongside or instead of text; ExpiresIn > 0 makes the message ephemeral.
type SendInput struct {
	From        string
	To          string
	Content     string
	ImageBase64 *string
	ExpiresIn   time.Duration
}

func (s *ChatService) validPair(self, peer string) error {
	if err := ValidUserID(self); err != nil {
		return err
	}
	if err := ValidUserID(peer); err != nil {
		return err
	}
	if self == peer {
		return ErrSelfConversation
	}
	return nil
}

func (s *ChatService) allowedExpiry(d time.Duration) bool {
	for _, a := range s.durations {
		if a == d {
			return true
		}
	}
	return false
}

func (s *ChatService) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

// Send stores the message and both roster markers in a single update. The id
// is allocated before the write, so a retried update rewrites the same record.
func (s *ChatService) Send(ctx context.Context, in SendInput) (models.Message, error) {
	if err := s.validPair(in.From, in.To); err != nil {
		return models.Message{}, err
	}
	content := strings.TrimSpace(in.Content)
	if in.ImageBase64 != nil && *in.ImageBase64 == "" {
		in.ImageBase64 = nil
	}
	if content == "" && in.ImageBase64 == nil {
		return models.Message{}, ErrInvalidMessage
	}
	if in.ExpiresIn < 0 || !s.allowedExpiry(in.ExpiresIn) {
		return models.Message{}, fmt.Errorf("%w: %s", ErrInvalidExpiry, in.ExpiresIn)
	}

	now := s.now().UnixMilli()
	unread := false
	msg := models.Message{
		ID:          realtime.NewID(),
		SenderID:    in.From,
		ReceiverID:  in.To,
		Content:     content,
		Timestamp:   now,
		Read:        &unread,
		ImageBase64: in.ImageBase64,
	}
	if in.ExpiresIn > 0 {
		expiry := now + in.ExpiresIn.Milliseconds()
		msg.ExpiryTimestamp = &expiry
	}

	key := ConversationKey(in.From, in.To)
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	err := s.store.Update(ctx, map[string]any{
		messagePath(key, msg.ID):   msg,
		indexPath(in.From, in.To): true,
		indexPath(in.To, in.From): true,
	})
	if err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("send").Inc()
		return models.Message{}, writeFailed("send", err)
	}

	kind := "text"
	switch {
	case msg.Ephemeral():
		kind = "ephemeral"
	case msg.ImageBase64 != nil:
		kind = "image"
	}
	metrics.MessagesSentTotal.WithLabelValues(kind).Inc()
	s.logger.Debug("message_sent", "conversation", key, "id", msg.ID, "kind", kind)
	return msg, nil
}

// SendByName resolves the recipient by display name, then sends.
func (s *ChatService) SendByName(ctx context.Context, from, recipientName, content string) (models.Message, error) {
	if s.directory == nil {
		return models.Message{}, ErrPeerNotFound
	}
	name := strings.TrimSpace(recipientName)
	if name == "" || strings.TrimSpace(content) == "" {
		return models.Message{}, ErrMissingFields
	}
	lookupCtx, cancel := s.opContext(ctx)
	peer, err := s.directory.FindByName(lookupCtx, name)
	cancel()
	if err != nil {
		return models.Message{}, err
	}
	return s.Send(ctx, SendInput{From: from, To: peer, Content: content})
}

// Message reads one record of the conversation between self and peer.
func (s *ChatService) Message(ctx context.Context, self, peer, id string) (models.Message, error) {
	if err := s.validPair(self, peer); err != nil {
		return models.Message{}, err
	}
	if realtime.ValidSegment(id) != nil {
		return models.Message{}, ErrMessageNotFound
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	snap, err := s.store.Get(ctx, messagePath(ConversationKey(self, peer), id))
	if err != nil {
		return models.Message{}, err
	}
	if !snap.Exists() {
		return models.Message{}, ErrMessageNotFound
	}
	msg, err := decodeMessage(snap)
	if err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// Edit replaces the text and image of one of self's messages and flags it
// edited. The rest of the record is left alone.
func (s *ChatService) Edit(ctx context.Context, self, peer, id, content string, image *string) error {
	msg, err := s.Message(ctx, self, peer, id)
	if err != nil {
		return err
	}
	if msg.SenderID != self {
		return ErrNotMessageOwner
	}
	content = strings.TrimSpace(content)
	if image != nil && *image == "" {
		image = nil
	}
	if content == "" && image == nil {
		return ErrInvalidMessage
	}

	path := messagePath(ConversationKey(self, peer), id)
	var imageValue any
	if image != nil {
		imageValue = *image
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	err = s.store.Update(ctx, map[string]any{
		realtime.Join(path, "content"):     content,
		realtime.Join(path, "imageBase64"): imageValue,
		realtime.Join(path, "edited"):      true,
	})
	if err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("edit").Inc()
		return writeFailed("edit", err)
	}
	return nil
}

// DeleteMessage removes one of self's messages. A message that is already
// gone is not an error.
func (s *ChatService) DeleteMessage(ctx context.Context, self, peer, id string) error {
	msg, err := s.Message(ctx, self, peer, id)
	if errors.Is(err, ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if msg.SenderID != self {
		return ErrNotMessageOwner
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if err := s.store.Remove(ctx, messagePath(ConversationKey(self, peer), id)); err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("delete_message").Inc()
		return writeFailed("delete message", err)
	}
	return nil
}

// DeleteConversation removes every message between self and peer together
// with both roster markers, in one update.
func (s *ChatService) DeleteConversation(ctx context.Context, self, peer string) error {
	if err := s.validPair(self, peer); err != nil {
		return err
	}
	key := ConversationKey(self, peer)
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	err := s.store.Update(ctx, map[string]any{
		conversationPath(key): nil,
		indexPath(self, peer): nil,
		indexPath(peer, self): nil,
	})
	if err != nil {
		metrics.StoreWriteFailuresTotal.WithLabelValues("delete_conversation").Inc()
		return writeFailed("delete conversation", err)
	}
	s.logger.Info("conversation_deleted", "conversation", key, "by", self)
	return nil
}

// decodeMessage reads one message record, normalising legacy edit markers.
func decodeMessage(snap realtime.Snapshot) (models.Message, error) {
	var msg models.Message
	if err := snap.Decode(&msg); err != nil {
		return models.Message{}, fmt.Errorf("decode message %s: %w", snap.Key(), err)
	}
	if msg.SenderID == "" || msg.ReceiverID == "" {
		return models.Message{}, fmt.Errorf("decode message %s: missing participants", snap.Key())
	}
	msg.ID = snap.Key()
	if !snap.Child("edited").Exists() && strings.HasSuffix(msg.Content, legacyEditedMarker) {
		msg.Content = strings.TrimSuffix(msg.Content, legacyEditedMarker)
		msg.Edited = true
	}
	return msg, nil
}
