// Package store owns all conversation and message state for a session. Every
// mutation goes through the sync engine's apply path; the trackers annotate
// entries through the narrow methods here and never hold their own copy.
package store

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/sociora/sociora-go/internal/model"
)

// List identifies which of the three visible lists holds a conversation.
type List int

const (
	ListNone List = iota
	ListDirect
	ListGroups
	ListRequests
)

func (l List) String() string {
	switch l {
	case ListDirect:
		return "direct"
	case ListGroups:
		return "groups"
	case ListRequests:
		return "requests"
	default:
		return "none"
	}
}

type Store struct {
	mu        sync.RWMutex
	log       *zap.SugaredLogger
	bufferCap int

	direct   []*model.Conversation
	groups   []*model.Conversation
	requests []*model.Conversation
	buffers  map[string][]*model.Message
	openID   string
}

func New(log *zap.SugaredLogger, bufferCap int) *Store {
	if bufferCap <= 0 {
		bufferCap = 1000
	}
	return &Store{
		log:       log,
		bufferCap: bufferCap,
		buffers:   make(map[string][]*model.Message),
	}
}

// Snapshot is a consistent read-only copy of the three lists.
type Snapshot struct {
	Direct   []*model.Conversation
	Groups   []*model.Conversation
	Requests []*model.Conversation
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Direct:   cloneList(s.direct),
		Groups:   cloneList(s.groups),
		Requests: cloneList(s.requests),
	}
}

func cloneList(in []*model.Conversation) []*model.Conversation {
	out := make([]*model.Conversation, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

// ReplaceLists swaps in freshly reconciled lists, sorted by recency.
func (s *Store) ReplaceLists(direct, groups, requests []*model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.direct = append([]*model.Conversation(nil), direct...)
	s.groups = append([]*model.Conversation(nil), groups...)
	s.requests = append([]*model.Conversation(nil), requests...)
	sortByRecency(s.direct)
	sortByRecency(s.groups)
	sortByRecency(s.requests)
}

// UpsertConversation inserts or refreshes one conversation in the given list,
// moving it between lists if its classification changed. The unread counter
// and any loaded buffer survive a refresh.
func (s *Store) UpsertConversation(conv *model.Conversation, target List) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, current, idx := s.findLocked(conv.ID)
	if existing != nil {
		conv = conv.Clone()
		conv.UnreadCount = existing.UnreadCount
		if current == target {
			list := s.listLocked(current)
			(*list)[idx] = conv
			sortByRecency(*list)
			return
		}
		s.removeLocked(current, idx)
	} else {
		conv = conv.Clone()
	}
	list := s.listLocked(target)
	*list = append(*list, conv)
	sortByRecency(*list)
}

// Remove drops a conversation from whichever list holds it and releases its
// buffer. Absence is not an error.
func (s *Store) Remove(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, list, idx := s.findLocked(conversationID)
	if list == ListNone {
		return false
	}
	s.removeLocked(list, idx)
	delete(s.buffers, conversationID)
	return true
}

// Conversation returns a copy of the conversation and the list holding it.
func (s *Store) Conversation(conversationID string) (*model.Conversation, List) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, list, _ := s.findLocked(conversationID)
	if c == nil {
		return nil, ListNone
	}
	return c.Clone(), list
}

func (s *Store) SetOpen(conversationID string) {
	s.mu.Lock()
	s.openID = conversationID
	s.mu.Unlock()
}

func (s *Store) Open() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openID
}

// UpsertLastMessage refreshes the preview and recency of a conversation and
// re-sorts its list. It reports whether the conversation was known; the
// caller decides what an unknown id means.
func (s *Store) UpsertLastMessage(conversationID string, sum model.MessageSummary, incrementUnread bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, list, _ := s.findLocked(conversationID)
	if conv == nil {
		return false
	}
	conv.LastMessage = &sum
	if sum.Timestamp.After(conv.LastActivityAt) {
		conv.LastActivityAt = sum.Timestamp
	}
	if incrementUnread {
		conv.UnreadCount++
	}
	sortByRecency(*s.listLocked(list))
	return true
}

func (s *Store) ClearUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if conv, _, _ := s.findLocked(conversationID); conv != nil {
		conv.UnreadCount = 0
	}
}

// AppendMessage adds a message to its conversation's buffer. The buffer is
// scanned for the id first so a REST-sent message echoed back over the socket
// lands exactly once.
func (s *Store) AppendMessage(msg *model.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[msg.ConversationID]
	for _, m := range buf {
		if m.ID == msg.ID {
			return false
		}
	}
	buf = append(buf, msg.Clone())
	if len(buf) > s.bufferCap {
		buf = buf[len(buf)-s.bufferCap:]
	}
	s.buffers[msg.ConversationID] = buf
	return true
}

// ConfirmMessage replaces the optimistic local copy with the authoritative
// server one. If the socket echo already delivered the server copy, the local
// one is simply dropped.
func (s *Store) ConfirmMessage(conversationID, localID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[conversationID]
	serverIdx, localIdx := -1, -1
	for i, m := range buf {
		switch m.ID {
		case msg.ID:
			serverIdx = i
		case localID:
			localIdx = i
		}
	}
	confirmed := msg.Clone()
	confirmed.Confirmed = true
	switch {
	case serverIdx >= 0 && localIdx >= 0:
		buf[serverIdx] = confirmed
		buf = append(buf[:localIdx], buf[localIdx+1:]...)
	case localIdx >= 0:
		buf[localIdx] = confirmed
	case serverIdx >= 0:
		buf[serverIdx] = confirmed
	default:
		buf = append(buf, confirmed)
	}
	s.buffers[conversationID] = buf
}

// RemoveMessage deletes by id. Idempotent: a second delete is a no-op.
func (s *Store) RemoveMessage(conversationID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeMessageLocked(conversationID, messageID)
}

func (s *Store) removeMessageLocked(conversationID, messageID string) bool {
	buf := s.buffers[conversationID]
	for i, m := range buf {
		if m.ID == messageID {
			s.buffers[conversationID] = append(buf[:i], buf[i+1:]...)
			return true
		}
	}
	return false
}

// RevertMessage rolls back a failed optimistic send: the local copy is removed
// and the conversation preview recomputed from what is left in the buffer.
func (s *Store) RevertMessage(conversationID, localID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.removeMessageLocked(conversationID, localID) {
		return
	}
	s.log.Debugw("reverted optimistic message", "conversation_id", conversationID, "message_id", localID)
	conv, list, _ := s.findLocked(conversationID)
	if conv == nil {
		return
	}
	buf := s.buffers[conversationID]
	if len(buf) == 0 {
		conv.LastMessage = nil
	} else {
		last := buf[len(buf)-1]
		sum := last.Summary()
		conv.LastMessage = &sum
		conv.LastActivityAt = last.CreatedAt
	}
	sortByRecency(*s.listLocked(list))
}

// MergeHistory folds a fetched history page into the buffer, keeping any
// messages already present (unconfirmed local sends included) and ordering by
// creation time.
func (s *Store) MergeHistory(conversationID string, msgs []*model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[conversationID]
	known := make(map[string]struct{}, len(buf))
	for _, m := range buf {
		known[m.ID] = struct{}{}
	}
	for _, m := range msgs {
		if _, ok := known[m.ID]; ok {
			continue
		}
		known[m.ID] = struct{}{}
		buf = append(buf, m.Clone())
	}
	sort.SliceStable(buf, func(i, j int) bool {
		if buf[i].CreatedAt.Equal(buf[j].CreatedAt) {
			return buf[i].ID < buf[j].ID
		}
		return buf[i].CreatedAt.Before(buf[j].CreatedAt)
	})
	if len(buf) > s.bufferCap {
		buf = buf[len(buf)-s.bufferCap:]
	}
	s.buffers[conversationID] = buf
}

// DropBuffer releases the message buffer when a conversation view closes.
func (s *Store) DropBuffer(conversationID string) {
	s.mu.Lock()
	delete(s.buffers, conversationID)
	s.mu.Unlock()
}

// MarkRead grows the readBy set of the given messages (all buffered messages
// when messageIDs is nil) and returns how many entries actually changed.
// Readers are only ever added, never removed.
func (s *Store) MarkRead(conversationID, readerID string, messageIDs []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := s.buffers[conversationID]
	changed := 0
	if messageIDs == nil {
		for _, m := range buf {
			if m.AddReader(readerID) {
				changed++
			}
		}
		return changed
	}
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	for _, m := range buf {
		if _, ok := wanted[m.ID]; ok && m.AddReader(readerID) {
			changed++
		}
	}
	return changed
}

// Messages returns a copy of the buffered history for a conversation.
func (s *Store) Messages(conversationID string) []*model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.buffers[conversationID]
	out := make([]*model.Message, len(buf))
	for i, m := range buf {
		out[i] = m.Clone()
	}
	return out
}

// PromoteRequest moves an accepted request into the matching active list.
func (s *Store) PromoteRequest(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, list, idx := s.findLocked(conversationID)
	if list != ListRequests {
		return false
	}
	s.removeLocked(ListRequests, idx)
	target := s.listLocked(ListDirect)
	if conv.Kind == model.KindGroup {
		target = s.listLocked(ListGroups)
	}
	*target = append(*target, conv)
	sortByRecency(*target)
	return true
}

// RemoveRequest drops a declined request from the requests list.
func (s *Store) RemoveRequest(conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, list, idx := s.findLocked(conversationID)
	if list != ListRequests {
		return false
	}
	s.removeLocked(ListRequests, idx)
	delete(s.buffers, conversationID)
	return true
}

// findLocked searches the lists in delta lookup order: direct, groups,
// requests.
func (s *Store) findLocked(id string) (*model.Conversation, List, int) {
	for _, l := range []List{ListDirect, ListGroups, ListRequests} {
		list := *s.listLocked(l)
		for i, c := range list {
			if c.ID == id {
				return c, l, i
			}
		}
	}
	return nil, ListNone, -1
}

func (s *Store) listLocked(l List) *[]*model.Conversation {
	switch l {
	case ListGroups:
		return &s.groups
	case ListRequests:
		return &s.requests
	default:
		return &s.direct
	}
}

func (s *Store) removeLocked(l List, idx int) {
	list := s.listLocked(l)
	*list = append((*list)[:idx], (*list)[idx+1:]...)
}

// sortByRecency orders by lastActivityAt descending; ties break on id so the
// rendered order is deterministic.
func sortByRecency(list []*model.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].LastActivityAt.Equal(list[j].LastActivityAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].LastActivityAt.After(list[j].LastActivityAt)
	})
}
