package domain

import "fmt"

// ConversationKind partitions conversation identifiers. The kind decides
// message-identity semantics and is never reassigned for a given peer.
type ConversationKind int32

const (
	ConversationUser ConversationKind = iota
	ConversationGroup
	ConversationChannel
	ConversationSecret
)

// ConversationID identifies one conversation (equivalently, one peer).
type ConversationID struct {
	Kind ConversationKind
	ID   int64
}

func (c ConversationID) String() string {
	return fmt.Sprintf("%d:%d", c.Kind, c.ID)
}

// Namespace partitions message identifiers within a conversation. Cloud
// namespaces carry stable server-assigned ids; Local and the secret
// namespaces carry provisional client-assigned ids.
type Namespace int32

const (
	NamespaceCloud Namespace = iota
	NamespaceScheduledCloud
	NamespaceLocal
	NamespaceSecretIncoming
	NamespaceSecretOutgoing
)

// IsLocal reports whether ids in this namespace are client-assigned and
// therefore provisional.
func (n Namespace) IsLocal() bool {
	return n == NamespaceLocal || n == NamespaceSecretIncoming || n == NamespaceSecretOutgoing
}

// MessageID is the full identity of a message: conversation, namespace and
// a 64-bit id that is monotonic with arrival order in Cloud namespaces.
type MessageID struct {
	Conversation ConversationID
	Namespace    Namespace
	ID           int64
}

func (m MessageID) String() string {
	return fmt.Sprintf("%s/%d/%d", m.Conversation, m.Namespace, m.ID)
}

// OrderingKey is the canonical sort key for history operations:
// lexicographic by (timestamp, namespace, id). Two distinct messages in the
// same conversation never compare equal.
type OrderingKey struct {
	Timestamp int64
	ID        MessageID
}

// Compare returns -1, 0 or 1. Zero only for identical identity.
func (k OrderingKey) Compare(other OrderingKey) int {
	if k.Timestamp != other.Timestamp {
		if k.Timestamp < other.Timestamp {
			return -1
		}
		return 1
	}
	if k.ID.Namespace != other.ID.Namespace {
		if k.ID.Namespace < other.ID.Namespace {
			return -1
		}
		return 1
	}
	if k.ID.ID != other.ID.ID {
		if k.ID.ID < other.ID.ID {
			return -1
		}
		return 1
	}
	return 0
}

func (k OrderingKey) Less(other OrderingKey) bool {
	return k.Compare(other) < 0
}

// MediaKind classifies the media payload of a message far enough for the
// sync engine's purposes (recency lists, tag derivation).
type MediaKind int32

const (
	MediaNone MediaKind = iota
	MediaPhoto
	MediaVideo
	MediaFile
	MediaSticker
	MediaGIF
	MediaVoice
	MediaMusic
)

// Attributes is the closed set of per-message attributes the engine reads
// and writes. At most one value of each kind exists per message; nil means
// the attribute is absent.
type Attributes struct {
	ReplyTo       *MessageID `json:"reply_to,omitempty"`
	SequenceStamp *int64     `json:"sequence_stamp,omitempty"`
	EditedAt      *int64     `json:"edited_at,omitempty"`
	Views         *int32     `json:"views,omitempty"`
	ScheduledAt   *int64     `json:"scheduled_at,omitempty"`
}

// Merge overlays the non-nil attributes of incoming onto a copy of a,
// leaving unrelated attributes untouched.
func (a Attributes) Merge(incoming Attributes) Attributes {
	out := a
	if incoming.ReplyTo != nil {
		out.ReplyTo = incoming.ReplyTo
	}
	if incoming.SequenceStamp != nil {
		out.SequenceStamp = incoming.SequenceStamp
	}
	if incoming.EditedAt != nil {
		out.EditedAt = incoming.EditedAt
	}
	if incoming.Views != nil {
		out.Views = incoming.Views
	}
	if incoming.ScheduledAt != nil {
		out.ScheduledAt = incoming.ScheduledAt
	}
	return out
}

// Message is an immutable snapshot of a stored message. Mutation happens by
// computing a new value and writing it back inside a store transaction.
type Message struct {
	ID          MessageID
	Timestamp   int64
	From        ConversationID
	Outgoing    bool
	Text        string
	MediaKind   MediaKind
	MediaID     int64
	GroupingKey int64
	Tags        Tag
	Attributes  Attributes
}

// Key returns the message's canonical ordering key.
func (m Message) Key() OrderingKey {
	return OrderingKey{Timestamp: m.Timestamp, ID: m.ID}
}

// PendingMessage is a locally authored message awaiting acknowledgement.
// UniqueID is client-generated, random, and stable for the send attempt.
type PendingMessage struct {
	UniqueID    int64
	Message     Message
	ScheduledAt int64
}

// PresenceStatus is the coarse activity state of a user peer.
type PresenceStatus int32

const (
	PresenceUnknown PresenceStatus = iota
	PresenceOnline
	PresenceOffline
	PresenceRecently
)

// Presence carries a user's activity state. LastActivity never regresses
// across merges; only Status may move independently.
type Presence struct {
	Status       PresenceStatus
	LastActivity int64
}

// Merge applies the monotonic presence rule: status follows the incoming
// value, last activity takes the maximum of old and new.
func (p Presence) Merge(incoming Presence) Presence {
	out := incoming
	if incoming.LastActivity < p.LastActivity {
		out.LastActivity = p.LastActivity
	}
	return out
}

// Peer is an immutable snapshot of a user, group or channel. Chat-list
// membership is never set directly: it is re-derived from these fields on
// every upsert.
type Peer struct {
	ID          ConversationID
	AccessHash  int64
	Title       string
	Username    string
	IsContact   bool
	Creator     bool
	Kicked      bool
	Left        bool
	Deactivated bool
	Broadcast   bool
	CreatedAt   int64
	MigratedTo  int64
}

// IncludedInChatList derives chat-list membership from the peer's own
// state. Deactivated, migrated or abandoned peers never appear.
func (p Peer) IncludedInChatList() bool {
	if p.Deactivated || p.MigratedTo != 0 {
		return false
	}
	if p.Kicked || p.Left {
		return false
	}
	return true
}

// ReadState tracks read progress per (conversation, namespace). It is only
// ever mutated through Merge, never replaced wholesale by a partial fetch.
type ReadState struct {
	MaxIncomingReadID int64
	MaxOutgoingReadID int64
	MaxKnownID        int64
	UnreadCount       int32
	MarkedUnread      bool
}

// Merge folds a freshly fetched read state into the stored one. Read
// pointers are monotonic; the unread counter and the manual-unread mark
// follow the incoming value, which reflects the server's current truth.
func (r ReadState) Merge(incoming ReadState) ReadState {
	out := incoming
	if incoming.MaxIncomingReadID < r.MaxIncomingReadID {
		out.MaxIncomingReadID = r.MaxIncomingReadID
	}
	if incoming.MaxOutgoingReadID < r.MaxOutgoingReadID {
		out.MaxOutgoingReadID = r.MaxOutgoingReadID
	}
	if incoming.MaxKnownID < r.MaxKnownID {
		out.MaxKnownID = r.MaxKnownID
	}
	return out
}

// DialogSummary is the assembled chat-list entry for one conversation:
// folder membership, pin order, top message pointer and unread counters.
// PinningIndex is nil for unpinned conversations.
type DialogSummary struct {
	Conversation   ConversationID
	Folder         int32
	PinningIndex   *int32
	TopMessage     OrderingKey
	ReadState      ReadState
	UnreadMentions int32
}

// FolderSummary aggregates unread information for one folder of the chat
// list.
type FolderSummary struct {
	Folder              int32
	UnreadConversations int32
	UnreadMessages      int32
}
