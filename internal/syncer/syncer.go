package syncer

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tgmirror/internal/domain"
	"tgmirror/internal/telegram"
)

// requestCeiling is the hard per-request item cap, applied regardless of
// the caller-requested count.
const requestCeiling = 100

// recentStickerCap and recentGIFCap bound the recency lists appended to
// when newly sent media is acknowledged. Oldest entries are evicted.
const (
	recentStickerCap = 20
	recentGIFCap     = 200
)

// ErrInvariant marks a caller contract breach (unreconcilable pending
// message, mixed filter tags, cross-namespace grouping mismatch). These
// must surface, not be swallowed.
var ErrInvariant = errors.New("sync invariant violated")

// Store is the transactional local store the engine commits into. All
// mutations of one logical operation happen inside exactly one Update
// call, serialized against all other transactions on the same store.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Update runs fn in a writable transaction; fn returning an error
	// rolls every write back.
	Update(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the single-writer transaction surface consumed by the engine.
type Tx interface {
	GetMessage(id domain.MessageID) (domain.Message, bool, error)
	// AdjacentMessages walks stored history from an ordering key, oldest
	// first when backward is false, newest first otherwise. The anchor
	// itself is excluded.
	AdjacentMessages(conv domain.ConversationID, ns domain.Namespace, anchor domain.OrderingKey, backward bool, limit int) ([]domain.Message, error)
	UpsertMessages(msgs []domain.Message) error
	// ReassignMessage atomically moves a message, its attributes and its
	// grouping key from one identity to another.
	ReassignMessage(old domain.MessageID, msg domain.Message) error

	GetPeer(id domain.ConversationID) (domain.Peer, bool, error)
	PutPeer(peer domain.Peer) error
	SetChatListMembership(id domain.ConversationID, included bool) error

	GetPresence(id domain.ConversationID) (domain.Presence, bool, error)
	PutPresence(id domain.ConversationID, presence domain.Presence) error

	ContactIDs() ([]int64, error)
	ReplaceContactIDs(ids []int64) error

	GetReadState(conv domain.ConversationID, ns domain.Namespace) (domain.ReadState, bool, error)
	PutReadState(conv domain.ConversationID, ns domain.Namespace, state domain.ReadState) error

	Holes(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis) ([]domain.IDRange, error)
	SetHoles(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis, holes []domain.IDRange) error

	PendingByUniqueID(uniqueID int64) (domain.PendingMessage, bool, error)
	PendingForConversation(conv domain.ConversationID) ([]domain.PendingMessage, error)
	PutPending(pending domain.PendingMessage) error
	DeletePending(uniqueID int64) error
	AckApplied(uniqueID int64) (bool, error)
	MarkAckApplied(uniqueID int64) error

	AppendRecentMedia(kind string, mediaID int64, capacity int) error

	GetDialog(conv domain.ConversationID) (domain.DialogSummary, bool, error)
	PutDialog(summary domain.DialogSummary) error
}

// Notifier receives change notifications after a commit. Passed in
// explicitly so tests can observe without process-wide state.
type Notifier interface {
	HistoryChanged(conv domain.ConversationID)
	ChatListChanged()
}

type nopNotifier struct{}

func (nopNotifier) HistoryChanged(domain.ConversationID) {}
func (nopNotifier) ChatListChanged()                     {}

// Syncer reconciles the local store with the remote service: gap fills,
// chat-list pages and pending-message acknowledgements.
type Syncer struct {
	store  Store
	api    telegram.API
	log    *zap.Logger
	notify Notifier

	// fills serializes and coalesces gap fills per (conversation,
	// namespace, axis); concurrent fills racing on one gap range could
	// double-count the shrink.
	fills singleflight.Group

	mu      sync.Mutex
	metrics Metrics
}

type Option func(*Syncer)

func WithLogger(log *zap.Logger) Option {
	return func(s *Syncer) { s.log = log }
}

func WithNotifier(n Notifier) Option {
	return func(s *Syncer) { s.notify = n }
}

func New(store Store, api telegram.API, opts ...Option) *Syncer {
	s := &Syncer{
		store:  store,
		api:    api,
		log:    zap.NewNop(),
		notify: nopNotifier{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Metrics counts transport activity per process. Flood waits are folded
// into failures for control flow but reported separately here.
type Metrics struct {
	HistoryRequests  int
	DialogRequests   int
	LookupRequests   int
	TransportErrors  int
	FloodWaitEvents  int
	FloodWaitSeconds int64
	SkippedItems     int
}

func (s *Syncer) recordRequest(kind *int) {
	s.mu.Lock()
	*kind++
	s.mu.Unlock()
}

func (s *Syncer) recordTransportError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.TransportErrors++
	if seconds, ok := telegram.FloodWaitSeconds(err); ok {
		s.metrics.FloodWaitEvents++
		s.metrics.FloodWaitSeconds += seconds
	}
}

func (s *Syncer) recordSkipped(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.metrics.SkippedItems += n
	s.mu.Unlock()
}

// MetricsSnapshot returns a copy of the accumulated counters.
func (s *Syncer) MetricsSnapshot() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// History reads stored messages adjacent to an ordering key without
// touching the network. Gaps in the walked span are the caller's concern;
// FillHole closes them.
func (s *Syncer) History(ctx context.Context, conv domain.ConversationID, ns domain.Namespace, anchor domain.OrderingKey, backward bool, limit int) ([]domain.Message, error) {
	if limit <= 0 || limit > requestCeiling {
		limit = requestCeiling
	}
	var out []domain.Message
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		out, err = tx.AdjacentMessages(conv, ns, anchor, backward, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// peerByConversation loads the stored peer for a conversation so a wire
// request can be addressed to it. Missing peers degrade to "nothing to
// fetch" rather than an error.
func (s *Syncer) peerByConversation(ctx context.Context, conv domain.ConversationID) (domain.Peer, bool, error) {
	var peer domain.Peer
	var found bool
	err := s.store.View(ctx, func(tx Tx) error {
		var err error
		peer, found, err = tx.GetPeer(conv)
		return err
	})
	if err != nil {
		return domain.Peer{}, false, err
	}
	return peer, found, nil
}
