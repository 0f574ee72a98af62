package syncer

import (
	"context"
	"sort"
	"sync"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tgmirror/internal/domain"
	"tgmirror/internal/telegram"
)

// ChatListRequest describes one chat-list page. Folder zero is the root
// axis; only the root axis triggers per-folder summary requests. The
// anchor fields come from the previous page's NextAnchor.
type ChatListRequest struct {
	Folder      int32
	FirstPage   bool
	Anchor      domain.OrderingKey
	Limit       int
	ChangeToken int64
}

// ChatListUpdate is the merged result of one chat-list page: primary
// window, pinned overlay and per-folder summaries reconciled into one
// consistent state per conversation.
type ChatListUpdate struct {
	Unchanged       bool
	Summaries       []domain.DialogSummary
	FolderSummaries []domain.FolderSummary
	// NextAnchor is the lowest ordering key among non-pinned top
	// messages; pinned conversations never advance the cursor.
	NextAnchor domain.OrderingKey
	HasAnchor  bool
}

// dialogEntry pairs a parsed dialog with where it was listed.
type dialogEntry struct {
	conv     domain.ConversationID
	folder   int32
	topID    int64
	read     domain.ReadState
	mentions int32
	pinned   bool
	pinOrder int32
}

// SyncChatList fetches and merges one page of the dialog list. The
// primary window, the pinned overlay (first page only) and the per-folder
// summaries run concurrently and all complete before the single commit.
func (s *Syncer) SyncChatList(ctx context.Context, req ChatListRequest) (ChatListUpdate, error) {
	limit := req.Limit
	if limit <= 0 || limit > requestCeiling {
		limit = requestCeiling
	}

	var (
		primary      []dialogEntry
		primaryBatch = newBatch()
		primaryTops  map[domain.ConversationID]domain.OrderingKey
		notModified  bool
		pinned       []dialogEntry
		pinnedBatch  = newBatch()
		pinnedTops   map[domain.ConversationID]domain.OrderingKey
		folderRefs   = map[int32]struct{}{}
		folderRefsMu sync.Mutex
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		request := &tg.MessagesGetDialogsRequest{
			ExcludePinned: true,
			OffsetDate:    int(req.Anchor.Timestamp),
			OffsetID:      int(req.Anchor.ID.ID),
			OffsetPeer:    s.anchorPeer(groupCtx, req.Anchor.ID.Conversation),
			Limit:         limit,
			Hash:          req.ChangeToken,
		}
		if req.Folder != 0 {
			request.SetFolderID(int(req.Folder))
		}
		s.recordRequest(&s.metrics.DialogRequests)
		raw, err := s.api.MessagesGetDialogs(groupCtx, request)
		if err != nil {
			s.recordTransportError(err)
			s.log.Debug("dialog page fetch failed", zap.Error(err))
			return groupCtx.Err()
		}
		var dialogs []tg.DialogClass
		var messages []tg.MessageClass
		switch d := raw.(type) {
		case *tg.MessagesDialogs:
			dialogs, messages = d.Dialogs, d.Messages
			s.addEntities(primaryBatch, d.Users, d.Chats)
		case *tg.MessagesDialogsSlice:
			dialogs, messages = d.Dialogs, d.Messages
			s.addEntities(primaryBatch, d.Users, d.Chats)
		case *tg.MessagesDialogsNotModified:
			notModified = true
			return nil
		default:
			return nil
		}
		primary, primaryTops = s.parseDialogs(primaryBatch, dialogs, messages, req.Folder)
		if req.Folder == 0 {
			folderRefsMu.Lock()
			for _, entry := range primary {
				if entry.folder != 0 {
					folderRefs[entry.folder] = struct{}{}
				}
			}
			collectFolderRefs(folderRefs, dialogs)
			folderRefsMu.Unlock()
		}
		return nil
	})

	if req.FirstPage {
		group.Go(func() error {
			s.recordRequest(&s.metrics.DialogRequests)
			raw, err := s.api.MessagesGetPinnedDialogs(groupCtx, int(req.Folder))
			if err != nil {
				// The overlay degrades to empty; the rest of the sync
				// still commits.
				s.recordTransportError(err)
				s.log.Debug("pinned overlay fetch failed", zap.Error(err))
				return groupCtx.Err()
			}
			s.addEntities(pinnedBatch, raw.Users, raw.Chats)
			pinned, pinnedTops = s.parseDialogs(pinnedBatch, raw.Dialogs, raw.Messages, req.Folder)
			markPinned(pinned)
			if req.Folder == 0 {
				folderRefsMu.Lock()
				for _, entry := range pinned {
					if entry.folder != 0 {
						folderRefs[entry.folder] = struct{}{}
					}
				}
				collectFolderRefs(folderRefs, raw.Dialogs)
				folderRefsMu.Unlock()
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return ChatListUpdate{}, err
	}
	if notModified {
		// The supplied change token matched server state; nothing to
		// merge and nothing to write.
		return ChatListUpdate{Unchanged: true}, nil
	}

	folderSummaries := s.fetchFolderSummaries(ctx, req, folderRefs)

	update := mergeDialogPage(primary, pinned)
	update.FolderSummaries = folderSummaries

	// Union of the two batches; later-inserted wins on plain conflicts,
	// presence keeps the monotonic rule inside upsertPresences.
	combined := newBatch()
	combined.messages = append(combined.messages, primaryBatch.messages...)
	combined.messages = append(combined.messages, pinnedBatch.messages...)
	combined.peers = append(combined.peers, primaryBatch.peers...)
	combined.peers = append(combined.peers, pinnedBatch.peers...)
	for id, p := range primaryBatch.presences {
		combined.presences[id] = p
	}
	for id, p := range pinnedBatch.presences {
		if stored, ok := combined.presences[id]; ok {
			combined.presences[id] = stored.Merge(p)
			continue
		}
		combined.presences[id] = p
	}

	tops := map[domain.ConversationID]domain.OrderingKey{}
	for conv, key := range primaryTops {
		tops[conv] = key
	}
	for conv, key := range pinnedTops {
		tops[conv] = key
	}
	for i := range update.Summaries {
		if key, ok := tops[update.Summaries[i].Conversation]; ok {
			update.Summaries[i].TopMessage = key
		}
	}

	// Recompute the pagination cursor against the refined keys: the
	// lowest ordering key among non-pinned primary top messages.
	pinnedSet := map[domain.ConversationID]struct{}{}
	for _, entry := range pinned {
		pinnedSet[entry.conv] = struct{}{}
	}
	update.HasAnchor = false
	for _, entry := range primary {
		if _, isPinned := pinnedSet[entry.conv]; isPinned || entry.pinned {
			continue
		}
		key := topKeyFallback(entry)
		if refined, ok := tops[entry.conv]; ok {
			key = refined
		}
		if !update.HasAnchor || key.Less(update.NextAnchor) {
			update.NextAnchor = key
			update.HasAnchor = true
		}
	}

	err := s.store.Update(ctx, func(tx Tx) error {
		if err := commitBatch(tx, combined); err != nil {
			return err
		}
		for _, summary := range update.Summaries {
			if err := mergeReadState(tx, summary.Conversation, domain.NamespaceCloud, summary.ReadState); err != nil {
				return err
			}
			_, known, err := tx.GetDialog(summary.Conversation)
			if err != nil {
				return err
			}
			if err := tx.PutDialog(summary); err != nil {
				return err
			}
			if !known {
				if err := seedHistoryHole(tx, summary); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return ChatListUpdate{}, err
	}

	s.notify.ChatListChanged()
	return update, nil
}

// anchorPeer resolves the pagination offset peer; empty when unknown.
func (s *Syncer) anchorPeer(ctx context.Context, conv domain.ConversationID) tg.InputPeerClass {
	if conv == (domain.ConversationID{}) {
		return &tg.InputPeerEmpty{}
	}
	peer, found, err := s.peerByConversation(ctx, conv)
	if err != nil || !found {
		return &tg.InputPeerEmpty{}
	}
	return telegram.InputPeer(peer)
}

// parseDialogs normalizes a dialog list, returning entries plus the
// ordering keys of the listed top messages. Malformed dialogs are
// skipped.
func (s *Syncer) parseDialogs(b *batch, dialogs []tg.DialogClass, messages []tg.MessageClass, fallbackFolder int32) ([]dialogEntry, map[domain.ConversationID]domain.OrderingKey) {
	topByConv := map[domain.ConversationID]domain.OrderingKey{}
	for _, msgClass := range messages {
		m, ok := msgClass.(*tg.Message)
		if !ok || m == nil {
			continue
		}
		conv, ok := telegram.ConversationFromPeer(m.PeerID)
		if !ok {
			continue
		}
		msg, ok := telegram.MapMessage(conv, msgClass)
		if !ok {
			continue
		}
		b.messages = append(b.messages, msg)
		topByConv[conv] = msg.Key()
	}

	entries := make([]dialogEntry, 0, len(dialogs))
	skipped := 0
	for _, dialogClass := range dialogs {
		d, ok := dialogClass.(*tg.Dialog)
		if !ok {
			continue
		}
		conv, ok := telegram.ConversationFromPeer(d.Peer)
		if !ok {
			skipped++
			continue
		}
		folder := fallbackFolder
		if id, ok := d.GetFolderID(); ok {
			folder = int32(id)
		}
		entries = append(entries, dialogEntry{
			conv:   conv,
			folder: folder,
			topID:  int64(d.TopMessage),
			read: domain.ReadState{
				MaxIncomingReadID: int64(d.ReadInboxMaxID),
				MaxOutgoingReadID: int64(d.ReadOutboxMaxID),
				MaxKnownID:        int64(d.TopMessage),
				UnreadCount:       int32(d.UnreadCount),
				MarkedUnread:      d.UnreadMark,
			},
			mentions: int32(d.UnreadMentionsCount),
			pinned:   d.Pinned,
		})
	}
	s.recordSkipped(skipped)
	return entries, topByConv
}

// markPinned stamps pin order by overlay position. When inconsistent
// source data lists one conversation twice, the duplicates are collapsed
// later with the lower position winning.
func markPinned(entries []dialogEntry) {
	for i := range entries {
		entries[i].pinned = true
		entries[i].pinOrder = int32(i)
	}
}

func collectFolderRefs(refs map[int32]struct{}, dialogs []tg.DialogClass) {
	for _, dialogClass := range dialogs {
		if folder, ok := dialogClass.(*tg.DialogFolder); ok {
			refs[int32(folder.Folder.ID)] = struct{}{}
		}
	}
}

// fetchFolderSummaries issues one summary request per referenced folder,
// concurrently. A failed folder is omitted from the merged result.
func (s *Syncer) fetchFolderSummaries(ctx context.Context, req ChatListRequest, refs map[int32]struct{}) []domain.FolderSummary {
	if req.Folder != 0 || len(refs) == 0 {
		return nil
	}
	var mu sync.Mutex
	summaries := make([]domain.FolderSummary, 0, len(refs))
	group, groupCtx := errgroup.WithContext(ctx)
	for folder := range refs {
		folder := folder
		group.Go(func() error {
			request := &tg.MessagesGetDialogsRequest{
				OffsetPeer: &tg.InputPeerEmpty{},
				Limit:      requestCeiling,
			}
			request.SetFolderID(int(folder))
			s.recordRequest(&s.metrics.DialogRequests)
			raw, err := s.api.MessagesGetDialogs(groupCtx, request)
			if err != nil {
				s.recordTransportError(err)
				s.log.Debug("folder summary fetch failed",
					zap.Int32("folder", folder), zap.Error(err))
				return groupCtx.Err()
			}
			var dialogs []tg.DialogClass
			switch d := raw.(type) {
			case *tg.MessagesDialogs:
				dialogs = d.Dialogs
			case *tg.MessagesDialogsSlice:
				dialogs = d.Dialogs
			default:
				return nil
			}
			summary := domain.FolderSummary{Folder: folder}
			for _, dialogClass := range dialogs {
				d, ok := dialogClass.(*tg.Dialog)
				if !ok {
					continue
				}
				if d.UnreadCount > 0 || d.UnreadMark {
					summary.UnreadConversations++
				}
				summary.UnreadMessages += int32(d.UnreadCount)
			}
			mu.Lock()
			summaries = append(summaries, summary)
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return summaries
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Folder < summaries[j].Folder })
	return summaries
}

// mergeDialogPage unions the primary window and the pinned overlay into
// one final state per conversation. The pinned overlay wins for
// conversations present in both, and pinned conversations never advance
// the pagination cursor.
func mergeDialogPage(primary, pinned []dialogEntry) ChatListUpdate {
	byConv := map[domain.ConversationID]dialogEntry{}
	order := make([]domain.ConversationID, 0, len(primary)+len(pinned))
	for _, entry := range primary {
		if _, seen := byConv[entry.conv]; !seen {
			order = append(order, entry.conv)
		}
		byConv[entry.conv] = entry
	}
	for _, entry := range pinned {
		existing, seen := byConv[entry.conv]
		if !seen {
			order = append(order, entry.conv)
		}
		if seen && existing.pinned && existing.pinOrder < entry.pinOrder {
			// Duplicate pinned listing: the lower position wins.
			continue
		}
		byConv[entry.conv] = entry
	}

	pinnedSet := map[domain.ConversationID]struct{}{}
	for _, entry := range pinned {
		pinnedSet[entry.conv] = struct{}{}
	}

	var update ChatListUpdate
	for _, conv := range order {
		entry := byConv[conv]
		summary := domain.DialogSummary{
			Conversation:   conv,
			Folder:         entry.folder,
			TopMessage:     topKeyFallback(entry),
			ReadState:      entry.read,
			UnreadMentions: entry.mentions,
		}
		if entry.pinned {
			index := entry.pinOrder
			summary.PinningIndex = &index
		}
		update.Summaries = append(update.Summaries, summary)
	}

	for _, entry := range primary {
		if _, isPinned := pinnedSet[entry.conv]; isPinned || entry.pinned {
			continue
		}
		key := topKeyFallback(entry)
		if !update.HasAnchor || key.Less(update.NextAnchor) {
			update.NextAnchor = key
			update.HasAnchor = true
		}
	}
	return update
}

// seedHistoryHole installs the initial everywhere-axis gap below a newly
// discovered conversation's top message. Only the top message is known at
// this point; everything under it is unfetched history for backfill to
// close. Re-listing a known conversation never reinstates filled ranges.
func seedHistoryHole(tx Tx, summary domain.DialogSummary) error {
	top := summary.TopMessage.ID.ID
	if top <= 1 {
		return nil
	}
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	return tx.SetHoles(summary.Conversation, domain.NamespaceCloud, axis,
		[]domain.IDRange{{Lower: 1, Upper: top - 1}})
}

// topKeyFallback builds an ordering key from the dialog's top-message
// pointer; the timestamp is refined later when the top message itself was
// part of the reply.
func topKeyFallback(entry dialogEntry) domain.OrderingKey {
	return domain.OrderingKey{
		ID: domain.MessageID{
			Conversation: entry.conv,
			Namespace:    domain.NamespaceCloud,
			ID:           entry.topID,
		},
	}
}
