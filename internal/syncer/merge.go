package syncer

import (
	"context"
	"sync"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tgmirror/internal/domain"
	"tgmirror/internal/telegram"
)

// batch is the normalized, request-scoped aggregate built from one or
// more wire replies. It is merged into the store inside one transaction.
type batch struct {
	messages  []domain.Message
	peers     []domain.Peer
	presences map[domain.ConversationID]domain.Presence
}

func newBatch() *batch {
	return &batch{presences: map[domain.ConversationID]domain.Presence{}}
}

func (b *batch) hasMessage(id domain.MessageID) bool {
	for _, m := range b.messages {
		if m.ID == id {
			return true
		}
	}
	return false
}

// addReply folds one modified wire reply into the batch. Unparseable
// items are skipped, not fatal. When the reply carries a channel sequence
// stamp it is applied to every message of the reply.
func (s *Syncer) addReply(b *batch, conv domain.ConversationID, reply telegram.ModifiedReply) {
	skipped := 0
	for _, msgClass := range reply.Messages {
		msg, ok := telegram.MapMessage(conv, msgClass)
		if !ok {
			skipped++
			continue
		}
		if reply.HasPts {
			pts := reply.Pts
			msg.Attributes.SequenceStamp = &pts
		}
		b.messages = append(b.messages, msg)
	}
	s.addEntities(b, reply.Users, reply.Chats)
	s.recordSkipped(skipped)
}

func (s *Syncer) addEntities(b *batch, users []tg.UserClass, chats []tg.ChatClass) {
	skipped := 0
	for _, userClass := range users {
		user, ok := userClass.(*tg.User)
		if !ok || user == nil {
			skipped++
			continue
		}
		peer := telegram.MapUser(user)
		b.peers = append(b.peers, peer)
		if status, ok := user.GetStatus(); ok {
			if presence, ok := telegram.MapPresence(status); ok {
				b.presences[peer.ID] = presence
			}
		}
	}
	for _, chatClass := range chats {
		peer, ok := telegram.MapChat(chatClass)
		if !ok {
			skipped++
			continue
		}
		b.peers = append(b.peers, peer)
	}
	s.recordSkipped(skipped)
}

// resolveAssociated fetches every message referenced by an attribute of
// the batch that is neither stored nor part of the batch itself. One
// secondary fetch per conversation, results fed back into the same batch.
// Second-order references are deliberately left unresolved.
func (s *Syncer) resolveAssociated(ctx context.Context, b *batch) error {
	missing := map[domain.ConversationID][]int64{}
	err := s.store.View(ctx, func(tx Tx) error {
		for _, msg := range b.messages {
			ref := msg.Attributes.ReplyTo
			if ref == nil || ref.Namespace != domain.NamespaceCloud {
				continue
			}
			if b.hasMessage(*ref) {
				continue
			}
			_, found, err := tx.GetMessage(*ref)
			if err != nil {
				return err
			}
			if !found {
				missing[ref.Conversation] = append(missing[ref.Conversation], ref.ID)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(missing) == 0 {
		return nil
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	for conv, ids := range missing {
		conv, ids := conv, ids
		group.Go(func() error {
			reply, ok := s.lookupMessages(groupCtx, conv, ids)
			if !ok {
				return groupCtx.Err()
			}
			mu.Lock()
			s.addReply(b, conv, reply)
			mu.Unlock()
			return nil
		})
	}
	return group.Wait()
}

// lookupMessages issues one batched by-id fetch for a conversation.
// Transport failures degrade to an empty result per the error policy.
func (s *Syncer) lookupMessages(ctx context.Context, conv domain.ConversationID, ids []int64) (telegram.ModifiedReply, bool) {
	inputs := make([]tg.InputMessageClass, 0, len(ids))
	for _, id := range ids {
		inputs = append(inputs, &tg.InputMessageID{ID: int(id)})
	}
	s.recordRequest(&s.metrics.LookupRequests)

	var raw tg.MessagesMessagesClass
	var err error
	if conv.Kind == domain.ConversationChannel {
		peer, found, peerErr := s.peerByConversation(ctx, conv)
		if peerErr != nil || !found {
			return telegram.ModifiedReply{}, false
		}
		channel, ok := telegram.InputChannel(peer)
		if !ok {
			return telegram.ModifiedReply{}, false
		}
		raw, err = s.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: channel,
			ID:      inputs,
		})
	} else {
		raw, err = s.api.MessagesGetMessages(ctx, inputs)
	}
	if err != nil {
		s.recordTransportError(err)
		s.log.Debug("associated message lookup failed",
			zap.String("conversation", conv.String()),
			zap.Error(err))
		return telegram.ModifiedReply{}, false
	}
	reply, ok := telegram.ClassifyReply(raw)
	if !ok {
		return telegram.ModifiedReply{}, false
	}
	return reply, true
}

// commitBatch writes the batch inside the supplied transaction: peers and
// presences first, then messages.
func commitBatch(tx Tx, b *batch) error {
	if err := upsertPeers(tx, b.peers); err != nil {
		return err
	}
	if err := upsertPresences(tx, b.presences); err != nil {
		return err
	}
	return tx.UpsertMessages(b.messages)
}
