package syncer

import (
	"sort"

	"tgmirror/internal/domain"
)

// upsertPeers writes a batch of peer snapshots. Every write re-derives
// chat-list membership from the new peer value; membership is never set
// by callers. The contact set is replaced only if it actually changed.
func upsertPeers(tx Tx, peers []domain.Peer) error {
	contactChanges := map[int64]bool{}
	for _, incoming := range peers {
		old, found, err := tx.GetPeer(incoming.ID)
		if err != nil {
			return err
		}
		merged := incoming
		if found && merged.AccessHash == 0 {
			// The access hash only travels on full peer payloads; keep
			// the known one when the update lacks it.
			merged.AccessHash = old.AccessHash
		}
		if incoming.ID.Kind == domain.ConversationUser {
			contactChanges[incoming.ID.ID] = incoming.IsContact
		}
		if err := tx.PutPeer(merged); err != nil {
			return err
		}
		if err := tx.SetChatListMembership(merged.ID, merged.IncludedInChatList()); err != nil {
			return err
		}
	}
	if len(contactChanges) == 0 {
		return nil
	}
	return mergeContacts(tx, contactChanges)
}

// mergeContacts applies per-user contact flags to the stored contact set,
// emitting a replace only when the set changed.
func mergeContacts(tx Tx, changes map[int64]bool) error {
	stored, err := tx.ContactIDs()
	if err != nil {
		return err
	}
	set := make(map[int64]struct{}, len(stored))
	for _, id := range stored {
		set[id] = struct{}{}
	}
	changed := false
	for id, isContact := range changes {
		_, present := set[id]
		if isContact && !present {
			set[id] = struct{}{}
			changed = true
		}
		if !isContact && present {
			delete(set, id)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return tx.ReplaceContactIDs(ids)
}

// upsertPresences merges incoming presences under the monotonic rule:
// last activity never regresses, status follows the newest observation.
func upsertPresences(tx Tx, presences map[domain.ConversationID]domain.Presence) error {
	for id, incoming := range presences {
		stored, found, err := tx.GetPresence(id)
		if err != nil {
			return err
		}
		merged := incoming
		if found {
			merged = stored.Merge(incoming)
			if merged == stored {
				continue
			}
		}
		if err := tx.PutPresence(id, merged); err != nil {
			return err
		}
	}
	return nil
}

// mergeReadState folds a fetched read state into the stored one for a
// (conversation, namespace) pair. Partial fetches never overwrite the
// stored state wholesale.
func mergeReadState(tx Tx, conv domain.ConversationID, ns domain.Namespace, incoming domain.ReadState) error {
	stored, found, err := tx.GetReadState(conv, ns)
	if err != nil {
		return err
	}
	merged := incoming
	if found {
		merged = stored.Merge(incoming)
		if merged == stored {
			return nil
		}
	}
	return tx.PutReadState(conv, ns, merged)
}
