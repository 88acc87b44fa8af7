package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"chat-sync/internal/metrics"
	"chat-sync/internal/models"
	"chat-sync/internal/realtime"
)

// StreamView is the ordered message list of one conversation as seen by Self.
// A view is never modified after it is published; treat Messages as read-only.
type StreamView struct {
	Key      string
	Self     string
	Messages []models.Message
	Revision uint64
}

// SyncState reports whether a live view is currently receiving updates.
type SyncState struct {
	Lost bool
	Err  error
}

type StreamHandlers struct {
	OnView func(StreamView)
	OnSync func(SyncState)
}

// MessageStream keeps the view of one conversation current, acknowledges
// what the viewer receives and sweeps expired ephemeral messages.
type MessageStream struct {
	key     string
	self    string
	chat    *ChatService
	acker   *ReadAcker
	sweeper *Sweeper
	h       StreamHandlers

	listener *listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	view      atomic.Pointer[StreamView]
	lost      atomic.Bool
	closeOnce sync.Once
}

// OpenStream starts listening to the conversation key on behalf of self, who
// must be one of its participants. The first view arrives asynchronously.
func (s *ChatService) OpenStream(key, self string, h StreamHandlers) (*MessageStream, error) {
	a, b, ok := keyMembers(key)
	if !ok || (self != a && self != b) {
		return nil, fmt.Errorf("%w: %q is not a participant of %q", ErrInvalidUserID, self, key)
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &MessageStream{
		key:     key,
		self:    self,
		chat:    s,
		acker:   NewReadAcker(s.store, s.opTimeout, s.logger),
		sweeper: NewSweeper(s.store, key, s.sweepInterval, s.opTimeout, s.now, s.logger),
		h:       h,
		cancel:  cancel,
	}
	st.view.Store(&StreamView{Key: key, Self: self})

	l, err := startListener(s.store, conversationPath(key), st.apply, st.lostSync, s.logger)
	if err != nil {
		cancel()
		return nil, err
	}
	st.listener = l

	st.wg.Add(1)
	go func() {
		defer st.wg.Done()
		st.sweeper.Run(ctx, func() []models.Message { return st.Current().Messages })
	}()
	return st, nil
}

// OpenConversation is OpenStream for the conversation between self and peer.
func (s *ChatService) OpenConversation(self, peer string, h StreamHandlers) (*MessageStream, error) {
	if err := s.validPair(self, peer); err != nil {
		return nil, err
	}
	return s.OpenStream(ConversationKey(self, peer), self, h)
}

// History reads the conversation between self and peer once, in display
// order. Unlike a stream it does not acknowledge anything.
func (s *ChatService) History(ctx context.Context, self, peer string) ([]models.Message, error) {
	if err := s.validPair(self, peer); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	snap, err := s.store.Get(ctx, conversationPath(ConversationKey(self, peer)))
	if err != nil {
		return nil, err
	}
	return conversationMessages(snap, s.logger), nil
}

func (st *MessageStream) Key() string { return st.key }

// Current returns the latest published view.
func (st *MessageStream) Current() StreamView {
	return *st.view.Load()
}

func (st *MessageStream) apply(snap realtime.Snapshot) {
	msgs := conversationMessages(snap, st.chat.logger)
	view := &StreamView{
		Key:      st.key,
		Self:     st.self,
		Messages: msgs,
		Revision: st.view.Load().Revision + 1,
	}
	st.view.Store(view)
	st.chat.logger.Debug("stream_snapshot_applied", "conversation", st.key, "messages", len(msgs), "revision", view.Revision)

	if st.lost.Swap(false) && st.h.OnSync != nil {
		st.h.OnSync(SyncState{})
	}
	st.acker.Ack(st.key, st.self, msgs)
	if st.h.OnView != nil {
		st.h.OnView(*view)
	}
}

func (st *MessageStream) lostSync(err error) {
	st.lost.Store(true)
	metrics.SyncLostTotal.WithLabelValues("stream").Inc()
	if st.h.OnSync != nil {
		st.h.OnSync(SyncState{Lost: true, Err: fmt.Errorf("%w: %w", ErrListener, err)})
	}
}

// Close detaches the listener and stops the sweeper. No handler runs after
// Close returns. It must not be called from a handler.
func (st *MessageStream) Close() {
	st.closeOnce.Do(func() {
		st.listener.stop()
		st.cancel()
		st.wg.Wait()
		st.acker.Wait()
	})
}

// conversationMessages decodes a conversation subtree into display order,
// skipping records that do not decode.
func conversationMessages(snap realtime.Snapshot, logger *slog.Logger) []models.Message {
	children := snap.Children()
	msgs := make([]models.Message, 0, len(children))
	for _, c := range children {
		m, err := decodeMessage(c)
		if err != nil {
			logger.Warn("stream_record_skipped", "conversation", snap.Key(), "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	sortMessages(msgs)
	return msgs
}

// sortMessages orders by timestamp, then by id for equal timestamps.
func sortMessages(msgs []models.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].Timestamp != msgs[j].Timestamp {
			return msgs[i].Timestamp < msgs[j].Timestamp
		}
		return msgs[i].ID < msgs[j].ID
	})
}
