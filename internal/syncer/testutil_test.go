package syncer

import (
	"context"
	"sort"

	"github.com/gotd/td/tg"

	"tgmirror/internal/domain"
)

// fakeAPI implements telegram.API with per-method hooks. Unset hooks
// return empty replies.
type fakeAPI struct {
	history       func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	search        func(req *tg.MessagesSearchRequest) (tg.MessagesMessagesClass, error)
	getMessages   func(ids []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	chGetMessages func(req *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	dialogs       func(req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	pinned        func(folderID int) (*tg.MessagesPeerDialogs, error)
}

func (f *fakeAPI) MessagesGetHistory(_ context.Context, req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
	if f.history == nil {
		return &tg.MessagesMessages{}, nil
	}
	return f.history(req)
}

func (f *fakeAPI) MessagesSearch(_ context.Context, req *tg.MessagesSearchRequest) (tg.MessagesMessagesClass, error) {
	if f.search == nil {
		return &tg.MessagesMessages{}, nil
	}
	return f.search(req)
}

func (f *fakeAPI) MessagesGetMessages(_ context.Context, ids []tg.InputMessageClass) (tg.MessagesMessagesClass, error) {
	if f.getMessages == nil {
		return &tg.MessagesMessages{}, nil
	}
	return f.getMessages(ids)
}

func (f *fakeAPI) ChannelsGetMessages(_ context.Context, req *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error) {
	if f.chGetMessages == nil {
		return &tg.MessagesMessages{}, nil
	}
	return f.chGetMessages(req)
}

func (f *fakeAPI) MessagesGetDialogs(_ context.Context, req *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error) {
	if f.dialogs == nil {
		return &tg.MessagesDialogs{}, nil
	}
	return f.dialogs(req)
}

func (f *fakeAPI) MessagesGetPinnedDialogs(_ context.Context, folderID int) (*tg.MessagesPeerDialogs, error) {
	if f.pinned == nil {
		return &tg.MessagesPeerDialogs{}, nil
	}
	return f.pinned(folderID)
}

type readStateKey struct {
	conv domain.ConversationID
	ns   domain.Namespace
}

type holeKey struct {
	conv domain.ConversationID
	ns   domain.Namespace
	axis string
}

// memStore is an in-memory Store/Tx for engine tests. All maps survive
// across transactions; rollback fidelity is the sqlite store's concern.
type memStore struct {
	messages    map[domain.MessageID]domain.Message
	peers       map[domain.ConversationID]domain.Peer
	membership  map[domain.ConversationID]bool
	presences   map[domain.ConversationID]domain.Presence
	contacts    []int64
	contactSets int
	readStates  map[readStateKey]domain.ReadState
	holes       map[holeKey][]domain.IDRange
	pending     map[int64]domain.PendingMessage
	acks        map[int64]bool
	recent      map[string][]int64
	dialogs     map[domain.ConversationID]domain.DialogSummary
}

func newMemStore() *memStore {
	return &memStore{
		messages:   map[domain.MessageID]domain.Message{},
		peers:      map[domain.ConversationID]domain.Peer{},
		membership: map[domain.ConversationID]bool{},
		presences:  map[domain.ConversationID]domain.Presence{},
		readStates: map[readStateKey]domain.ReadState{},
		holes:      map[holeKey][]domain.IDRange{},
		pending:    map[int64]domain.PendingMessage{},
		acks:       map[int64]bool{},
		recent:     map[string][]int64{},
		dialogs:    map[domain.ConversationID]domain.DialogSummary{},
	}
}

func (s *memStore) View(_ context.Context, fn func(tx Tx) error) error   { return fn(s) }
func (s *memStore) Update(_ context.Context, fn func(tx Tx) error) error { return fn(s) }

func (s *memStore) GetMessage(id domain.MessageID) (domain.Message, bool, error) {
	msg, ok := s.messages[id]
	return msg, ok, nil
}

func (s *memStore) AdjacentMessages(conv domain.ConversationID, ns domain.Namespace, anchor domain.OrderingKey, backward bool, limit int) ([]domain.Message, error) {
	var out []domain.Message
	for _, msg := range s.messages {
		if msg.ID.Conversation != conv || msg.ID.Namespace != ns {
			continue
		}
		if backward && msg.Key().Less(anchor) {
			out = append(out, msg)
		}
		if !backward && anchor.Less(msg.Key()) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if backward {
			return out[j].Key().Less(out[i].Key())
		}
		return out[i].Key().Less(out[j].Key())
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpsertMessages(msgs []domain.Message) error {
	for _, msg := range msgs {
		s.messages[msg.ID] = msg
	}
	return nil
}

func (s *memStore) ReassignMessage(old domain.MessageID, msg domain.Message) error {
	delete(s.messages, old)
	s.messages[msg.ID] = msg
	return nil
}

func (s *memStore) GetPeer(id domain.ConversationID) (domain.Peer, bool, error) {
	peer, ok := s.peers[id]
	return peer, ok, nil
}

func (s *memStore) PutPeer(peer domain.Peer) error {
	s.peers[peer.ID] = peer
	return nil
}

func (s *memStore) SetChatListMembership(id domain.ConversationID, included bool) error {
	s.membership[id] = included
	return nil
}

func (s *memStore) GetPresence(id domain.ConversationID) (domain.Presence, bool, error) {
	p, ok := s.presences[id]
	return p, ok, nil
}

func (s *memStore) PutPresence(id domain.ConversationID, presence domain.Presence) error {
	s.presences[id] = presence
	return nil
}

func (s *memStore) ContactIDs() ([]int64, error) {
	return append([]int64(nil), s.contacts...), nil
}

func (s *memStore) ReplaceContactIDs(ids []int64) error {
	s.contacts = append([]int64(nil), ids...)
	s.contactSets++
	return nil
}

func (s *memStore) GetReadState(conv domain.ConversationID, ns domain.Namespace) (domain.ReadState, bool, error) {
	state, ok := s.readStates[readStateKey{conv, ns}]
	return state, ok, nil
}

func (s *memStore) PutReadState(conv domain.ConversationID, ns domain.Namespace, state domain.ReadState) error {
	s.readStates[readStateKey{conv, ns}] = state
	return nil
}

func (s *memStore) Holes(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis) ([]domain.IDRange, error) {
	return append([]domain.IDRange(nil), s.holes[holeKey{conv, ns, axis.Encode()}]...), nil
}

func (s *memStore) SetHoles(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis, holes []domain.IDRange) error {
	s.holes[holeKey{conv, ns, axis.Encode()}] = append([]domain.IDRange(nil), holes...)
	return nil
}

func (s *memStore) PendingByUniqueID(uniqueID int64) (domain.PendingMessage, bool, error) {
	p, ok := s.pending[uniqueID]
	return p, ok, nil
}

func (s *memStore) PendingForConversation(conv domain.ConversationID) ([]domain.PendingMessage, error) {
	var out []domain.PendingMessage
	for _, p := range s.pending {
		if p.Message.ID.Conversation == conv {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniqueID < out[j].UniqueID })
	return out, nil
}

func (s *memStore) PutPending(pending domain.PendingMessage) error {
	s.pending[pending.UniqueID] = pending
	return nil
}

func (s *memStore) DeletePending(uniqueID int64) error {
	delete(s.pending, uniqueID)
	return nil
}

func (s *memStore) AckApplied(uniqueID int64) (bool, error) {
	return s.acks[uniqueID], nil
}

func (s *memStore) MarkAckApplied(uniqueID int64) error {
	s.acks[uniqueID] = true
	return nil
}

func (s *memStore) AppendRecentMedia(kind string, mediaID int64, capacity int) error {
	list := s.recent[kind]
	filtered := make([]int64, 0, len(list)+1)
	filtered = append(filtered, mediaID)
	for _, id := range list {
		if id != mediaID {
			filtered = append(filtered, id)
		}
	}
	if len(filtered) > capacity {
		filtered = filtered[:capacity]
	}
	s.recent[kind] = filtered
	return nil
}

func (s *memStore) GetDialog(conv domain.ConversationID) (domain.DialogSummary, bool, error) {
	d, ok := s.dialogs[conv]
	return d, ok, nil
}

func (s *memStore) PutDialog(summary domain.DialogSummary) error {
	s.dialogs[summary.Conversation] = summary
	return nil
}

func userConv(id int64) domain.ConversationID {
	return domain.ConversationID{Kind: domain.ConversationUser, ID: id}
}

func seedPeer(s *memStore, conv domain.ConversationID) {
	s.peers[conv] = domain.Peer{ID: conv, AccessHash: 99, Title: "Peer"}
}

func historyReply(ids ...int) *tg.MessagesMessagesSlice {
	reply := &tg.MessagesMessagesSlice{Count: len(ids)}
	for _, id := range ids {
		reply.Messages = append(reply.Messages, &tg.Message{
			ID:      id,
			Date:    1000 + id,
			Message: "m",
			PeerID:  &tg.PeerUser{UserID: 1},
		})
	}
	return reply
}
