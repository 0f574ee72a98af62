package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"

	_ "modernc.org/sqlite"

	"tgmirror/internal/domain"
	"tgmirror/internal/syncer"
)

// Store is the transactional local store. sqlite serializes writers, so
// every logical operation's transaction runs alone against the database.
type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", filepath.Clean(dbPath))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000;`); err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS messages (
	conv_kind INTEGER NOT NULL,
	conv_id INTEGER NOT NULL,
	namespace INTEGER NOT NULL,
	msg_id INTEGER NOT NULL,
	timestamp INTEGER NOT NULL,
	from_kind INTEGER NOT NULL DEFAULT 0,
	from_id INTEGER NOT NULL DEFAULT 0,
	outgoing INTEGER NOT NULL DEFAULT 0,
	text TEXT NOT NULL DEFAULT '',
	media_kind INTEGER NOT NULL DEFAULT 0,
	media_id INTEGER NOT NULL DEFAULT 0,
	grouping_key INTEGER NOT NULL DEFAULT 0,
	tags INTEGER NOT NULL DEFAULT 0,
	attributes TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (conv_kind, conv_id, namespace, msg_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_order ON messages(conv_kind, conv_id, timestamp, namespace, msg_id);

CREATE TABLE IF NOT EXISTS peers (
	kind INTEGER NOT NULL,
	id INTEGER NOT NULL,
	access_hash INTEGER NOT NULL DEFAULT 0,
	title TEXT NOT NULL DEFAULT '',
	username TEXT NOT NULL DEFAULT '',
	is_contact INTEGER NOT NULL DEFAULT 0,
	creator INTEGER NOT NULL DEFAULT 0,
	kicked INTEGER NOT NULL DEFAULT 0,
	left_chat INTEGER NOT NULL DEFAULT 0,
	deactivated INTEGER NOT NULL DEFAULT 0,
	broadcast INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0,
	migrated_to INTEGER NOT NULL DEFAULT 0,
	in_chat_list INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS presences (
	kind INTEGER NOT NULL,
	id INTEGER NOT NULL,
	status INTEGER NOT NULL DEFAULT 0,
	last_activity INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (kind, id)
);

CREATE TABLE IF NOT EXISTS contacts (
	user_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS read_states (
	conv_kind INTEGER NOT NULL,
	conv_id INTEGER NOT NULL,
	namespace INTEGER NOT NULL,
	max_incoming_read INTEGER NOT NULL DEFAULT 0,
	max_outgoing_read INTEGER NOT NULL DEFAULT 0,
	max_known INTEGER NOT NULL DEFAULT 0,
	unread_count INTEGER NOT NULL DEFAULT 0,
	marked_unread INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conv_kind, conv_id, namespace)
);

CREATE TABLE IF NOT EXISTS holes (
	conv_kind INTEGER NOT NULL,
	conv_id INTEGER NOT NULL,
	namespace INTEGER NOT NULL,
	axis TEXT NOT NULL,
	lower INTEGER NOT NULL,
	upper INTEGER NOT NULL,
	PRIMARY KEY (conv_kind, conv_id, namespace, axis, lower)
);

CREATE TABLE IF NOT EXISTS pending (
	unique_id INTEGER PRIMARY KEY,
	conv_kind INTEGER NOT NULL,
	conv_id INTEGER NOT NULL,
	scheduled_at INTEGER NOT NULL DEFAULT 0,
	message TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_conv ON pending(conv_kind, conv_id);

CREATE TABLE IF NOT EXISTS applied_acks (
	unique_id INTEGER PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS recent_media (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	media_id INTEGER NOT NULL,
	UNIQUE (kind, media_id)
);

CREATE TABLE IF NOT EXISTS dialogs (
	conv_kind INTEGER NOT NULL,
	conv_id INTEGER NOT NULL,
	folder INTEGER NOT NULL DEFAULT 0,
	pinning_index INTEGER,
	top_namespace INTEGER NOT NULL DEFAULT 0,
	top_msg_id INTEGER NOT NULL DEFAULT 0,
	top_timestamp INTEGER NOT NULL DEFAULT 0,
	unread_mentions INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (conv_kind, conv_id)
);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(tx syncer.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return fn(&Tx{ctx: ctx, tx: tx})
}

// Update runs fn in a writable transaction; any error rolls back every
// write.
func (s *Store) Update(ctx context.Context, fn func(tx syncer.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&Tx{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tx implements the engine's transaction surface on one sql transaction.
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *Tx) GetMessage(id domain.MessageID) (domain.Message, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
SELECT timestamp, from_kind, from_id, outgoing, text, media_kind, media_id, grouping_key, tags, attributes
FROM messages WHERE conv_kind = ? AND conv_id = ? AND namespace = ? AND msg_id = ?`,
		id.Conversation.Kind, id.Conversation.ID, id.Namespace, id.ID)
	var (
		msg      domain.Message
		outgoing int
		rawAttrs string
	)
	msg.ID = id
	err := row.Scan(&msg.Timestamp, &msg.From.Kind, &msg.From.ID, &outgoing,
		&msg.Text, &msg.MediaKind, &msg.MediaID, &msg.GroupingKey, &msg.Tags, &rawAttrs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}
	msg.Outgoing = outgoing != 0
	if err := json.Unmarshal([]byte(rawAttrs), &msg.Attributes); err != nil {
		return domain.Message{}, false, err
	}
	return msg, true, nil
}

func (t *Tx) AdjacentMessages(conv domain.ConversationID, ns domain.Namespace, anchor domain.OrderingKey, backward bool, limit int) ([]domain.Message, error) {
	query := `
SELECT msg_id, timestamp, from_kind, from_id, outgoing, text, media_kind, media_id, grouping_key, tags, attributes
FROM messages WHERE conv_kind = ? AND conv_id = ? AND namespace = ?
AND (timestamp > ? OR (timestamp = ? AND msg_id > ?))
ORDER BY timestamp, msg_id LIMIT ?`
	if backward {
		query = `
SELECT msg_id, timestamp, from_kind, from_id, outgoing, text, media_kind, media_id, grouping_key, tags, attributes
FROM messages WHERE conv_kind = ? AND conv_id = ? AND namespace = ?
AND (timestamp < ? OR (timestamp = ? AND msg_id < ?))
ORDER BY timestamp DESC, msg_id DESC LIMIT ?`
	}
	rows, err := t.tx.QueryContext(t.ctx, query,
		conv.Kind, conv.ID, ns, anchor.Timestamp, anchor.Timestamp, anchor.ID.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Message
	for rows.Next() {
		var msg domain.Message
		var outgoing int
		var rawAttrs string
		msg.ID.Conversation = conv
		msg.ID.Namespace = ns
		if err := rows.Scan(&msg.ID.ID, &msg.Timestamp, &msg.From.Kind, &msg.From.ID, &outgoing,
			&msg.Text, &msg.MediaKind, &msg.MediaID, &msg.GroupingKey, &msg.Tags, &rawAttrs); err != nil {
			return nil, err
		}
		msg.Outgoing = outgoing != 0
		if err := json.Unmarshal([]byte(rawAttrs), &msg.Attributes); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (t *Tx) UpsertMessages(msgs []domain.Message) error {
	for _, msg := range msgs {
		attrs, err := json.Marshal(msg.Attributes)
		if err != nil {
			return err
		}
		_, err = t.tx.ExecContext(t.ctx, `
INSERT INTO messages (conv_kind, conv_id, namespace, msg_id, timestamp, from_kind, from_id, outgoing, text, media_kind, media_id, grouping_key, tags, attributes)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (conv_kind, conv_id, namespace, msg_id) DO UPDATE SET
	timestamp = excluded.timestamp,
	from_kind = excluded.from_kind,
	from_id = excluded.from_id,
	outgoing = excluded.outgoing,
	text = excluded.text,
	media_kind = excluded.media_kind,
	media_id = excluded.media_id,
	grouping_key = excluded.grouping_key,
	tags = excluded.tags,
	attributes = excluded.attributes`,
			msg.ID.Conversation.Kind, msg.ID.Conversation.ID, msg.ID.Namespace, msg.ID.ID,
			msg.Timestamp, msg.From.Kind, msg.From.ID, boolToInt(msg.Outgoing),
			msg.Text, msg.MediaKind, msg.MediaID, msg.GroupingKey, msg.Tags, string(attrs))
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) ReassignMessage(old domain.MessageID, msg domain.Message) error {
	if _, err := t.tx.ExecContext(t.ctx, `
DELETE FROM messages WHERE conv_kind = ? AND conv_id = ? AND namespace = ? AND msg_id = ?`,
		old.Conversation.Kind, old.Conversation.ID, old.Namespace, old.ID); err != nil {
		return err
	}
	return t.UpsertMessages([]domain.Message{msg})
}

func (t *Tx) GetPeer(id domain.ConversationID) (domain.Peer, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
SELECT access_hash, title, username, is_contact, creator, kicked, left_chat, deactivated, broadcast, created_at, migrated_to
FROM peers WHERE kind = ? AND id = ?`, id.Kind, id.ID)
	var peer domain.Peer
	var isContact, creator, kicked, left, deactivated, broadcast int
	peer.ID = id
	err := row.Scan(&peer.AccessHash, &peer.Title, &peer.Username, &isContact,
		&creator, &kicked, &left, &deactivated, &broadcast, &peer.CreatedAt, &peer.MigratedTo)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Peer{}, false, nil
	}
	if err != nil {
		return domain.Peer{}, false, err
	}
	peer.IsContact = isContact != 0
	peer.Creator = creator != 0
	peer.Kicked = kicked != 0
	peer.Left = left != 0
	peer.Deactivated = deactivated != 0
	peer.Broadcast = broadcast != 0
	return peer, true, nil
}

func (t *Tx) PutPeer(peer domain.Peer) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO peers (kind, id, access_hash, title, username, is_contact, creator, kicked, left_chat, deactivated, broadcast, created_at, migrated_to)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (kind, id) DO UPDATE SET
	access_hash = excluded.access_hash,
	title = excluded.title,
	username = excluded.username,
	is_contact = excluded.is_contact,
	creator = excluded.creator,
	kicked = excluded.kicked,
	left_chat = excluded.left_chat,
	deactivated = excluded.deactivated,
	broadcast = excluded.broadcast,
	created_at = excluded.created_at,
	migrated_to = excluded.migrated_to`,
		peer.ID.Kind, peer.ID.ID, peer.AccessHash, peer.Title, peer.Username,
		boolToInt(peer.IsContact), boolToInt(peer.Creator), boolToInt(peer.Kicked),
		boolToInt(peer.Left), boolToInt(peer.Deactivated), boolToInt(peer.Broadcast),
		peer.CreatedAt, peer.MigratedTo)
	return err
}

func (t *Tx) SetChatListMembership(id domain.ConversationID, included bool) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE peers SET in_chat_list = ? WHERE kind = ? AND id = ?`,
		boolToInt(included), id.Kind, id.ID)
	return err
}

func (t *Tx) GetPresence(id domain.ConversationID) (domain.Presence, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT status, last_activity FROM presences WHERE kind = ? AND id = ?`, id.Kind, id.ID)
	var p domain.Presence
	err := row.Scan(&p.Status, &p.LastActivity)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Presence{}, false, nil
	}
	if err != nil {
		return domain.Presence{}, false, err
	}
	return p, true, nil
}

func (t *Tx) PutPresence(id domain.ConversationID, presence domain.Presence) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO presences (kind, id, status, last_activity) VALUES (?, ?, ?, ?)
ON CONFLICT (kind, id) DO UPDATE SET status = excluded.status, last_activity = excluded.last_activity`,
		id.Kind, id.ID, presence.Status, presence.LastActivity)
	return err
}

func (t *Tx) ContactIDs() ([]int64, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT user_id FROM contacts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) ReplaceContactIDs(ids []int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM contacts`); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := t.tx.ExecContext(t.ctx, `INSERT INTO contacts (user_id) VALUES (?)`, id); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) GetReadState(conv domain.ConversationID, ns domain.Namespace) (domain.ReadState, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
SELECT max_incoming_read, max_outgoing_read, max_known, unread_count, marked_unread
FROM read_states WHERE conv_kind = ? AND conv_id = ? AND namespace = ?`, conv.Kind, conv.ID, ns)
	var state domain.ReadState
	var marked int
	err := row.Scan(&state.MaxIncomingReadID, &state.MaxOutgoingReadID,
		&state.MaxKnownID, &state.UnreadCount, &marked)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReadState{}, false, nil
	}
	if err != nil {
		return domain.ReadState{}, false, err
	}
	state.MarkedUnread = marked != 0
	return state, true, nil
}

func (t *Tx) PutReadState(conv domain.ConversationID, ns domain.Namespace, state domain.ReadState) error {
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO read_states (conv_kind, conv_id, namespace, max_incoming_read, max_outgoing_read, max_known, unread_count, marked_unread)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (conv_kind, conv_id, namespace) DO UPDATE SET
	max_incoming_read = excluded.max_incoming_read,
	max_outgoing_read = excluded.max_outgoing_read,
	max_known = excluded.max_known,
	unread_count = excluded.unread_count,
	marked_unread = excluded.marked_unread`,
		conv.Kind, conv.ID, ns, state.MaxIncomingReadID, state.MaxOutgoingReadID,
		state.MaxKnownID, state.UnreadCount, boolToInt(state.MarkedUnread))
	return err
}

func (t *Tx) Holes(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis) ([]domain.IDRange, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
SELECT lower, upper FROM holes
WHERE conv_kind = ? AND conv_id = ? AND namespace = ? AND axis = ?
ORDER BY lower`, conv.Kind, conv.ID, ns, axis.Encode())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var holes []domain.IDRange
	for rows.Next() {
		var r domain.IDRange
		if err := rows.Scan(&r.Lower, &r.Upper); err != nil {
			return nil, err
		}
		holes = append(holes, r)
	}
	return holes, rows.Err()
}

func (t *Tx) SetHoles(conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis, holes []domain.IDRange) error {
	if _, err := t.tx.ExecContext(t.ctx, `
DELETE FROM holes WHERE conv_kind = ? AND conv_id = ? AND namespace = ? AND axis = ?`,
		conv.Kind, conv.ID, ns, axis.Encode()); err != nil {
		return err
	}
	for _, r := range holes {
		if _, err := t.tx.ExecContext(t.ctx, `
INSERT INTO holes (conv_kind, conv_id, namespace, axis, lower, upper) VALUES (?, ?, ?, ?, ?, ?)`,
			conv.Kind, conv.ID, ns, axis.Encode(), r.Lower, r.Upper); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) PendingByUniqueID(uniqueID int64) (domain.PendingMessage, bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT message FROM pending WHERE unique_id = ?`, uniqueID)
	var raw string
	err := row.Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PendingMessage{}, false, nil
	}
	if err != nil {
		return domain.PendingMessage{}, false, err
	}
	var pending domain.PendingMessage
	if err := json.Unmarshal([]byte(raw), &pending); err != nil {
		return domain.PendingMessage{}, false, err
	}
	return pending, true, nil
}

func (t *Tx) PendingForConversation(conv domain.ConversationID) ([]domain.PendingMessage, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT message FROM pending WHERE conv_kind = ? AND conv_id = ? ORDER BY unique_id`,
		conv.Kind, conv.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PendingMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var pending domain.PendingMessage
		if err := json.Unmarshal([]byte(raw), &pending); err != nil {
			return nil, err
		}
		out = append(out, pending)
	}
	return out, rows.Err()
}

func (t *Tx) PutPending(pending domain.PendingMessage) error {
	raw, err := json.Marshal(pending)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(t.ctx, `
INSERT INTO pending (unique_id, conv_kind, conv_id, scheduled_at, message) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (unique_id) DO UPDATE SET
	conv_kind = excluded.conv_kind,
	conv_id = excluded.conv_id,
	scheduled_at = excluded.scheduled_at,
	message = excluded.message`,
		pending.UniqueID, pending.Message.ID.Conversation.Kind, pending.Message.ID.Conversation.ID,
		pending.ScheduledAt, string(raw))
	return err
}

func (t *Tx) DeletePending(uniqueID int64) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM pending WHERE unique_id = ?`, uniqueID)
	return err
}

func (t *Tx) AckApplied(uniqueID int64) (bool, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT 1 FROM applied_acks WHERE unique_id = ?`, uniqueID)
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *Tx) MarkAckApplied(uniqueID int64) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT OR IGNORE INTO applied_acks (unique_id) VALUES (?)`, uniqueID)
	return err
}

// AppendRecentMedia inserts at the head of a bounded recency list,
// evicting the oldest entries beyond capacity. Re-sending moves the item
// back to the head.
func (t *Tx) AppendRecentMedia(kind string, mediaID int64, capacity int) error {
	if _, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM recent_media WHERE kind = ? AND media_id = ?`, kind, mediaID); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO recent_media (kind, media_id) VALUES (?, ?)`, kind, mediaID); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx, `
DELETE FROM recent_media WHERE kind = ? AND seq NOT IN (
	SELECT seq FROM recent_media WHERE kind = ? ORDER BY seq DESC LIMIT ?
)`, kind, kind, capacity)
	return err
}

// RecentMedia returns the recency list newest first.
func (t *Tx) RecentMedia(kind string) ([]int64, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT media_id FROM recent_media WHERE kind = ? ORDER BY seq DESC`, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *Tx) GetDialog(conv domain.ConversationID) (domain.DialogSummary, bool, error) {
	row := t.tx.QueryRowContext(t.ctx, `
SELECT folder, pinning_index, top_namespace, top_msg_id, top_timestamp, unread_mentions
FROM dialogs WHERE conv_kind = ? AND conv_id = ?`, conv.Kind, conv.ID)
	var summary domain.DialogSummary
	var pinning sql.NullInt32
	summary.Conversation = conv
	err := row.Scan(&summary.Folder, &pinning, &summary.TopMessage.ID.Namespace,
		&summary.TopMessage.ID.ID, &summary.TopMessage.Timestamp, &summary.UnreadMentions)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DialogSummary{}, false, nil
	}
	if err != nil {
		return domain.DialogSummary{}, false, err
	}
	summary.TopMessage.ID.Conversation = conv
	if pinning.Valid {
		index := pinning.Int32
		summary.PinningIndex = &index
	}
	state, found, err := t.GetReadState(conv, domain.NamespaceCloud)
	if err != nil {
		return domain.DialogSummary{}, false, err
	}
	if found {
		summary.ReadState = state
	}
	return summary, true, nil
}

func (t *Tx) PutDialog(summary domain.DialogSummary) error {
	var pinning sql.NullInt32
	if summary.PinningIndex != nil {
		pinning = sql.NullInt32{Int32: *summary.PinningIndex, Valid: true}
	}
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO dialogs (conv_kind, conv_id, folder, pinning_index, top_namespace, top_msg_id, top_timestamp, unread_mentions)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (conv_kind, conv_id) DO UPDATE SET
	folder = excluded.folder,
	pinning_index = excluded.pinning_index,
	top_namespace = excluded.top_namespace,
	top_msg_id = excluded.top_msg_id,
	top_timestamp = excluded.top_timestamp,
	unread_mentions = excluded.unread_mentions`,
		summary.Conversation.Kind, summary.Conversation.ID, summary.Folder, pinning,
		summary.TopMessage.ID.Namespace, summary.TopMessage.ID.ID,
		summary.TopMessage.Timestamp, summary.UnreadMentions)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
