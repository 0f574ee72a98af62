package syncer

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tgmirror/internal/domain"
)

// MessageBody is the replaceable content of a message carried by an
// acknowledgement.
type MessageBody struct {
	Text      string
	MediaKind domain.MediaKind
	MediaID   int64
}

// Acknowledgement is the normalized send acknowledgement. Nil fields were
// absent from the wire payload. BatchIdentities covers implicit-ack
// variants where the server identity only appears in the broader update
// batch.
type Acknowledgement struct {
	UniqueID        int64
	Identity        *domain.MessageID
	Timestamp       *int64
	Body            *MessageBody
	SequenceStamp   *int64
	GroupingKey     *int64
	BatchIdentities []domain.MessageID
}

// Reconcile migrates one pending message to its server-assigned identity.
// Idempotent per unique id: a duplicate acknowledgement is a no-op.
func (s *Syncer) Reconcile(ctx context.Context, ack Acknowledgement) error {
	var outcome reconcileOutcome
	err := s.store.Update(ctx, func(tx Tx) error {
		var err error
		outcome, err = reconcileOne(tx, ack)
		return err
	})
	if err != nil {
		return err
	}
	if outcome.applied {
		s.log.Debug("pending message reconciled",
			zap.Int64("unique_id", ack.UniqueID),
			zap.String("identity", outcome.finalID.String()))
		s.notify.HistoryChanged(outcome.finalID.Conversation)
	}
	return nil
}

// ReconcileGroup migrates a batch of pending messages acknowledged
// together as one media group. Every member must resolve to the same
// final grouping key; a mismatch is a contract breach upstream.
func (s *Syncer) ReconcileGroup(ctx context.Context, acks []Acknowledgement) error {
	if len(acks) == 0 {
		return nil
	}
	return s.store.Update(ctx, func(tx Tx) error {
		var groupingKey int64
		var groupingSet bool
		var ns domain.Namespace
		for _, ack := range acks {
			outcome, err := reconcileOne(tx, ack)
			if err != nil {
				return err
			}
			if !outcome.applied {
				continue
			}
			if !groupingSet {
				groupingKey = outcome.groupingKey
				ns = outcome.finalID.Namespace
				groupingSet = true
				continue
			}
			if outcome.groupingKey != groupingKey {
				return fmt.Errorf("%w: grouped acknowledgement resolved to keys %d and %d",
					ErrInvariant, groupingKey, outcome.groupingKey)
			}
			if outcome.finalID.Namespace != ns {
				return fmt.Errorf("%w: grouped acknowledgement crosses namespaces %d and %d",
					ErrInvariant, ns, outcome.finalID.Namespace)
			}
		}
		return nil
	})
}

type reconcileOutcome struct {
	applied     bool
	finalID     domain.MessageID
	groupingKey int64
}

func reconcileOne(tx Tx, ack Acknowledgement) (reconcileOutcome, error) {
	applied, err := tx.AckApplied(ack.UniqueID)
	if err != nil {
		return reconcileOutcome{}, err
	}
	if applied {
		// Duplicate delivery; the first application already migrated
		// everything.
		return reconcileOutcome{}, nil
	}

	pending, found, err := tx.PendingByUniqueID(ack.UniqueID)
	if err != nil {
		return reconcileOutcome{}, err
	}
	if !found {
		return reconcileOutcome{}, fmt.Errorf("%w: acknowledgement for unknown unique id %d",
			ErrInvariant, ack.UniqueID)
	}

	finalID, err := resolveFinalIdentity(pending, ack)
	if err != nil {
		return reconcileOutcome{}, err
	}

	// Correct the optimistic timestamp, and shift every other still
	// pending message ordered below so relative ordering survives.
	timestamp := pending.Message.Timestamp
	if ack.Timestamp != nil {
		timestamp = *ack.Timestamp
	}
	if delta := timestamp - pending.Message.Timestamp; delta != 0 {
		if err := shiftPendingBelow(tx, pending, delta); err != nil {
			return reconcileOutcome{}, err
		}
	}

	msg := pending.Message
	oldID := msg.ID
	msg.ID = finalID
	msg.Timestamp = timestamp
	if ack.Body != nil {
		msg.Text = ack.Body.Text
		msg.MediaKind = ack.Body.MediaKind
		msg.MediaID = ack.Body.MediaID
	}
	if ack.SequenceStamp != nil {
		msg.Attributes = msg.Attributes.Merge(domain.Attributes{SequenceStamp: ack.SequenceStamp})
	}
	if ack.GroupingKey != nil {
		msg.GroupingKey = *ack.GroupingKey
	}

	if err := tx.ReassignMessage(oldID, msg); err != nil {
		return reconcileOutcome{}, err
	}
	if err := tx.DeletePending(ack.UniqueID); err != nil {
		return reconcileOutcome{}, err
	}
	if err := tx.MarkAckApplied(ack.UniqueID); err != nil {
		return reconcileOutcome{}, err
	}
	if err := recordSentMedia(tx, msg); err != nil {
		return reconcileOutcome{}, err
	}
	return reconcileOutcome{applied: true, finalID: finalID, groupingKey: msg.GroupingKey}, nil
}

// resolveFinalIdentity picks the server identity from the ack, falling
// back to the first identity of the broader update batch. The namespace
// is Cloud unless the message was scheduled and the acknowledged
// timestamp matches the requested schedule time exactly.
func resolveFinalIdentity(pending domain.PendingMessage, ack Acknowledgement) (domain.MessageID, error) {
	var id domain.MessageID
	switch {
	case ack.Identity != nil:
		id = *ack.Identity
	case len(ack.BatchIdentities) > 0:
		id = ack.BatchIdentities[0]
	default:
		return domain.MessageID{}, fmt.Errorf("%w: unique id %d carries no identity in acknowledgement or batch",
			ErrInvariant, ack.UniqueID)
	}
	id.Conversation = pending.Message.ID.Conversation
	id.Namespace = domain.NamespaceCloud
	if pending.ScheduledAt != 0 && ack.Timestamp != nil && *ack.Timestamp == pending.ScheduledAt {
		id.Namespace = domain.NamespaceScheduledCloud
	}
	return id, nil
}

// shiftPendingBelow offsets every other pending message of the same
// conversation whose ordering key is below the acknowledged one.
func shiftPendingBelow(tx Tx, acked domain.PendingMessage, delta int64) error {
	others, err := tx.PendingForConversation(acked.Message.ID.Conversation)
	if err != nil {
		return err
	}
	for _, other := range others {
		if other.UniqueID == acked.UniqueID {
			continue
		}
		if !other.Message.Key().Less(acked.Message.Key()) {
			continue
		}
		shifted := other
		shifted.Message.Timestamp += delta
		if err := tx.UpsertMessages([]domain.Message{shifted.Message}); err != nil {
			return err
		}
		if err := tx.PutPending(shifted); err != nil {
			return err
		}
	}
	return nil
}

// recordSentMedia appends newly sent sticker and gif media to the bounded
// recency lists. Not on the correctness path, but a failure here still
// fails the transaction rather than disappearing.
func recordSentMedia(tx Tx, msg domain.Message) error {
	switch msg.MediaKind {
	case domain.MediaSticker:
		return tx.AppendRecentMedia("sticker", msg.MediaID, recentStickerCap)
	case domain.MediaGIF:
		return tx.AppendRecentMedia("gif", msg.MediaID, recentGIFCap)
	default:
		return nil
	}
}
