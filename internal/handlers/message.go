package handlers

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chat-sync/internal/models"
	"chat-sync/internal/services"
	"chat-sync/internal/utils"

	"github.com/gofiber/websocket/v2"
)

type jsonSender interface {
	SendJSON(payload interface{}) error
}

// Session is one WebSocket client. It owns at most one open conversation and
// one roster, and pushes their views to the client as they change.
type Session struct {
	ID     string
	UserID string
	Name   string

	out    jsonSender
	chat   *services.ChatService
	users  *services.UserService
	now    func() time.Time
	logger *slog.Logger

	// ctx bounds every store call the session makes; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	stream *services.MessageStream
	peer   string
	roster *services.Roster

	filter atomic.Value // models.RosterFilter
}

func NewSession(id, userID, name string, out jsonSender, chat *services.ChatService, users *services.UserService) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:     id,
		UserID: userID,
		Name:   name,
		out:    out,
		chat:   chat,
		users:  users,
		now:    time.Now,
		logger: slog.Default().With("session", id, "user_id", userID),
		ctx:    ctx,
		cancel: cancel,
	}
	s.filter.Store(models.RosterAll)
	return s
}

func (s *Session) HandleMessage(msgType int, msg []byte) {
	if msgType != websocket.TextMessage {
		return
	}

	var wsMsg models.WSMessage
	if err := utils.SafeJSONParse(msg, &wsMsg); err != nil {
		utils.LogError(err, "JSON Parse")
		s.send(models.WSMessage{Event: "error", Error: "invalid message"})
		return
	}

	switch wsMsg.Event {
	case "open":
		s.handleOpen(&wsMsg)
	case "close":
		s.closeStream()
	case "roster":
		s.handleRoster(&wsMsg)
	case "send":
		s.handleSend(&wsMsg)
	case "edit":
		s.handleEdit(&wsMsg)
	case "delete":
		s.handleDelete(&wsMsg)
	case "delete_conversation":
		s.handleDeleteConversation(&wsMsg)
	default:
		s.logger.Warn("ws_unknown_event", "event", wsMsg.Event)
	}
}

func (s *Session) handleOpen(msg *models.WSMessage) {
	peer := msg.Peer
	other, err := s.users.Profile(s.ctx, peer)
	switch {
	case errors.Is(err, services.ErrPeerNotFound):
		other = &models.UserInfo{ID: peer, Name: services.NameUnknown}
	case err != nil:
		s.sendError(err)
		return
	}
	other.Email = ""
	other.Online = Manager.IsUserOnline(peer)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStreamLocked()

	stream, err := s.chat.OpenConversation(s.UserID, peer, services.StreamHandlers{
		OnView: func(v services.StreamView) { s.pushMessages(peer, other, v) },
		OnSync: func(st services.SyncState) { s.pushSync(peer, st) },
	})
	if err != nil {
		s.sendError(err)
		return
	}
	s.stream = stream
	s.peer = peer
}

func (s *Session) pushMessages(peer string, other *models.UserInfo, v services.StreamView) {
	now := s.now()
	items := make([]models.MessageItem, 0, len(v.Messages))
	for _, m := range v.Messages {
		items = append(items, models.NewMessageItem(m, s.UserID, now))
	}
	s.send(models.WSMessage{
		Event:     "messages",
		Peer:      peer,
		Revision:  v.Revision,
		Messages:  items,
		OtherUser: other,
		Timestamp: now.UnixMilli(),
	})
}

func (s *Session) pushSync(peer string, st services.SyncState) {
	if st.Lost {
		s.send(models.WSMessage{Event: "sync_lost", Peer: peer, Error: "connection to the message store lost, reconnecting"})
		return
	}
	s.send(models.WSMessage{Event: "sync_ok", Peer: peer})
}

func (s *Session) closeStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStreamLocked()
}

func (s *Session) closeStreamLocked() {
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
		s.peer = ""
	}
}

func (s *Session) handleRoster(msg *models.WSMessage) {
	s.filter.Store(models.ParseRosterFilter(msg.Filter))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.roster != nil {
		s.pushRoster(s.roster.Current())
		return
	}
	roster, err := s.chat.OpenRoster(s.UserID, s.users, s.pushRoster)
	if err != nil {
		s.sendError(err)
		return
	}
	s.roster = roster
}

func (s *Session) pushRoster(v services.RosterView) {
	filter := s.filter.Load().(models.RosterFilter)
	entries := services.Filter(v.Entries, filter)
	items := make([]models.RosterItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, models.RosterItem{ConversationSummary: e, Online: Manager.IsUserOnline(e.PeerID)})
	}
	s.send(models.WSMessage{
		Event:    "roster",
		Filter:   string(filter),
		Revision: v.Revision,
		Roster:   items,
		Meta:     map[string]any{"sync_lost": v.SyncLost},
	})
}

// target is the peer named by msg, or the open conversation's peer.
func (s *Session) target(msg *models.WSMessage) string {
	if msg.Peer != "" {
		return msg.Peer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *Session) handleSend(msg *models.WSMessage) {
	in := services.SendInput{
		From:      s.UserID,
		To:        s.target(msg),
		Content:   msg.Text,
		ExpiresIn: time.Duration(msg.ExpiresIn) * time.Second,
	}
	if msg.ImageBase64 != "" {
		in.ImageBase64 = &msg.ImageBase64
	}
	if _, err := s.chat.Send(s.ctx, in); err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleEdit(msg *models.WSMessage) {
	var image *string
	if msg.ImageBase64 != "" {
		image = &msg.ImageBase64
	}
	if err := s.chat.Edit(s.ctx, s.UserID, s.target(msg), msg.ID, msg.Text, image); err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleDelete(msg *models.WSMessage) {
	if err := s.chat.DeleteMessage(s.ctx, s.UserID, s.target(msg), msg.ID); err != nil {
		s.sendError(err)
	}
}

func (s *Session) handleDeleteConversation(msg *models.WSMessage) {
	peer := s.target(msg)
	s.mu.Lock()
	roster := s.roster
	s.mu.Unlock()

	var err error
	if roster != nil {
		err = roster.Delete(s.ctx, peer)
	} else {
		err = s.chat.DeleteConversation(s.ctx, s.UserID, peer)
	}
	if err != nil {
		s.sendError(err)
	}
}

// Close detaches every view the session owns.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeStreamLocked()
	if s.roster != nil {
		s.roster.Close()
		s.roster = nil
	}
}

func (s *Session) sendError(err error) {
	s.send(models.WSMessage{Event: "error", Error: clientMessage(err)})
}

func (s *Session) send(payload models.WSMessage) {
	if err := s.out.SendJSON(payload); err != nil {
		utils.LogError(err, "ws send")
	}
}
