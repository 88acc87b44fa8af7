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

// Placeholders shown while a peer's display name is unknown.
const (
	NamePending = "Loading..."
	NameUnknown = "Unknown user"
)

// UserDirectory looks up display names. ok is false when the user has no
// profile.
type UserDirectory interface {
	DisplayName(ctx context.Context, id string) (name string, ok bool, err error)
}

// RosterView is the conversation list of Self, newest first.
type RosterView struct {
	Self     string
	Entries  []models.ConversationSummary
	SyncLost bool
	Revision uint64
}

type rosterEventKind int

const (
	evMessages rosterEventKind = iota
	evIndex
	evName
	evLost
	evRemoved
)

type rosterEvent struct {
	kind rosterEventKind
	snap realtime.Snapshot
	peer string
	name string
	ok   bool
	err  error
	src  string
}

// Roster derives the conversation list of one user from the message tree and
// the roster index. One goroutine owns all of its state; subscriptions and
// name lookups only post events to it.
type Roster struct {
	self      string
	chat      *ChatService
	directory UserDirectory
	logger    *slog.Logger
	onView    func(RosterView)

	events chan rosterEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	messages *listener
	index    *listener
	current  atomic.Pointer[RosterView]
	stopOnce sync.Once

	// owned by the loop goroutine
	fromMessages map[string]models.ConversationSummary
	indexPeers   map[string]struct{}
	names        map[string]string
	requested    map[string]bool
	retryNames   map[string]struct{}
	lost         map[string]bool
	revision     uint64
}

// OpenRoster starts building the roster of self. onView receives every
// recomputed view from the roster goroutine.
func (s *ChatService) OpenRoster(self string, directory UserDirectory, onView func(RosterView)) (*Roster, error) {
	if err := ValidUserID(self); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Roster{
		self:         self,
		chat:         s,
		directory:    directory,
		logger:       s.logger,
		onView:       onView,
		events:       make(chan rosterEvent, 64),
		ctx:          ctx,
		cancel:       cancel,
		fromMessages: make(map[string]models.ConversationSummary),
		indexPeers:   make(map[string]struct{}),
		names:        make(map[string]string),
		requested:    make(map[string]bool),
		retryNames:   make(map[string]struct{}),
		lost:         make(map[string]bool),
	}
	r.current.Store(&RosterView{Self: self})

	r.wg.Add(1)
	go r.loop()

	var err error
	r.messages, err = startListener(s.store, realtime.Join("messages"),
		func(snap realtime.Snapshot) { r.post(rosterEvent{kind: evMessages, snap: snap}) },
		func(err error) { r.post(rosterEvent{kind: evLost, src: "messages", err: err}) },
		s.logger)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.index, err = startListener(s.store, realtime.Join("conversations", self),
		func(snap realtime.Snapshot) { r.post(rosterEvent{kind: evIndex, snap: snap}) },
		func(err error) { r.post(rosterEvent{kind: evLost, src: "index", err: err}) },
		s.logger)
	if err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Roster) post(ev rosterEvent) {
	select {
	case r.events <- ev:
	case <-r.ctx.Done():
	}
}

// Current returns the latest published view.
func (r *Roster) Current() RosterView {
	return *r.current.Load()
}

func (r *Roster) loop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.events:
			r.handle(ev)
			r.publish()
		}
	}
}

func (r *Roster) handle(ev rosterEvent) {
	switch ev.kind {
	case evMessages:
		r.fromMessages = summarize(r.self, ev.snap, r.logger)
		delete(r.lost, "messages")
		r.releaseFailedLookups()
	case evIndex:
		peers := make(map[string]struct{})
		for _, c := range ev.snap.Children() {
			if ValidUserID(c.Key()) == nil && c.Key() != r.self {
				peers[c.Key()] = struct{}{}
			}
		}
		r.indexPeers = peers
		delete(r.lost, "index")
		r.releaseFailedLookups()
	case evName:
		if ev.err != nil {
			r.retryNames[ev.peer] = struct{}{}
			r.logger.Warn("roster_name_lookup_failed", "peer", ev.peer, "error", ev.err)
			return
		}
		if ev.ok {
			r.names[ev.peer] = ev.name
		} else {
			r.names[ev.peer] = NameUnknown
		}
	case evLost:
		r.lost[ev.src] = true
		metrics.SyncLostTotal.WithLabelValues("roster").Inc()
		r.logger.Warn("roster_sync_lost", "self", r.self, "source", ev.src, "error", fmt.Errorf("%w: %w", ErrListener, ev.err))
	case evRemoved:
		delete(r.fromMessages, ev.peer)
		delete(r.indexPeers, ev.peer)
	}
}

func (r *Roster) publish() {
	entries := mergeSummaries(r.fromMessages, r.indexPeers, func(peer string) string {
		name, ok := r.names[peer]
		if !ok {
			r.lookup(peer)
			return NamePending
		}
		return name
	})

	r.revision++
	view := &RosterView{
		Self:     r.self,
		Entries:  entries,
		SyncLost: len(r.lost) > 0,
		Revision: r.revision,
	}
	r.current.Store(view)
	if r.onView != nil {
		r.onView(*view)
	}
}

// lookup resolves a name off the loop and posts the result back.
func (r *Roster) lookup(peer string) {
	if r.requested[peer] || r.directory == nil {
		return
	}
	r.requested[peer] = true
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.ctx, r.chat.opTimeout)
		defer cancel()
		name, ok, err := r.directory.DisplayName(ctx, peer)
		r.post(rosterEvent{kind: evName, peer: peer, name: name, ok: ok, err: err})
	}()
}

// releaseFailedLookups lets failed name lookups run again with the next
// store change.
func (r *Roster) releaseFailedLookups() {
	for peer := range r.retryNames {
		r.requested[peer] = false
		delete(r.retryNames, peer)
	}
}

// Delete removes the conversation with peer for both participants and drops
// it from this roster without waiting for the store to echo the change.
func (r *Roster) Delete(ctx context.Context, peer string) error {
	if err := r.chat.DeleteConversation(ctx, r.self, peer); err != nil {
		return err
	}
	r.post(rosterEvent{kind: evRemoved, peer: peer})
	return nil
}

// Close stops both listeners and the roster goroutine.
func (r *Roster) Close() {
	r.stopOnce.Do(func() {
		r.cancel()
		if r.messages != nil {
			r.messages.stop()
		}
		if r.index != nil {
			r.index.stop()
		}
		r.wg.Wait()
	})
}

// Filter projects entries without reordering them.
func Filter(entries []models.ConversationSummary, f models.RosterFilter) []models.ConversationSummary {
	if f != models.RosterUnread {
		return entries
	}
	out := make([]models.ConversationSummary, 0, len(entries))
	for _, e := range entries {
		if e.UnreadCount > 0 {
			out = append(out, e)
		}
	}
	return out
}

// mergeSummaries admits index-only peers with zero values, names every entry
// and sorts newest first.
func mergeSummaries(fromMessages map[string]models.ConversationSummary, indexPeers map[string]struct{}, name func(peer string) string) []models.ConversationSummary {
	merged := make(map[string]models.ConversationSummary, len(fromMessages)+len(indexPeers))
	for peer, s := range fromMessages {
		merged[peer] = s
	}
	for peer := range indexPeers {
		if _, ok := merged[peer]; !ok {
			merged[peer] = models.ConversationSummary{PeerID: peer}
		}
	}

	entries := make([]models.ConversationSummary, 0, len(merged))
	for peer, s := range merged {
		s.DisplayName = name(peer)
		entries = append(entries, s)
	}
	sortSummaries(entries)
	return entries
}

// Conversations computes the roster of self once, resolving names inline.
func (s *ChatService) Conversations(ctx context.Context, self string, directory UserDirectory) ([]models.ConversationSummary, error) {
	if err := ValidUserID(self); err != nil {
		return nil, err
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	root, err := s.store.Get(ctx, realtime.Join("messages"))
	if err != nil {
		return nil, err
	}
	idx, err := s.store.Get(ctx, realtime.Join("conversations", self))
	if err != nil {
		return nil, err
	}
	peers := make(map[string]struct{})
	for _, c := range idx.Children() {
		if ValidUserID(c.Key()) == nil && c.Key() != self {
			peers[c.Key()] = struct{}{}
		}
	}

	var lookupErr error
	entries := mergeSummaries(summarize(self, root, s.logger), peers, func(peer string) string {
		if directory == nil || lookupErr != nil {
			return NamePending
		}
		name, ok, err := directory.DisplayName(ctx, peer)
		switch {
		case err != nil:
			lookupErr = err
			return NamePending
		case !ok:
			return NameUnknown
		}
		return name
	})
	if lookupErr != nil {
		s.logger.Warn("roster_name_lookup_failed", "self", self, "error", lookupErr)
	}
	return entries, nil
}

// summarize scans the whole message tree for conversations involving self.
func summarize(self string, root realtime.Snapshot, logger *slog.Logger) map[string]models.ConversationSummary {
	out := make(map[string]models.ConversationSummary)
	for _, conv := range root.Children() {
		a, b, ok := keyMembers(conv.Key())
		if !ok || (a != self && b != self) {
			continue
		}
		for _, c := range conv.Children() {
			m, err := decodeMessage(c)
			if err != nil {
				logger.Debug("roster_record_skipped", "conversation", conv.Key(), "error", err)
				continue
			}
			var peer string
			switch self {
			case m.SenderID:
				peer = m.ReceiverID
			case m.ReceiverID:
				peer = m.SenderID
			default:
				continue
			}
			if peer == self {
				continue
			}
			s := out[peer]
			s.PeerID = peer
			if m.Timestamp > s.LastTimestamp {
				s.LastTimestamp = m.Timestamp
			}
			if m.ReceiverID == self && m.Unread() {
				s.UnreadCount++
			}
			out[peer] = s
		}
	}
	return out
}

func sortSummaries(entries []models.ConversationSummary) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].LastTimestamp != entries[j].LastTimestamp {
			return entries[i].LastTimestamp > entries[j].LastTimestamp
		}
		return entries[i].PeerID < entries[j].PeerID
	})
}
