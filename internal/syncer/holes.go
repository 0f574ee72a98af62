package syncer

import (
	"context"
	"fmt"

	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"tgmirror/internal/domain"
	"tgmirror/internal/telegram"
)

type fillKind int

const (
	fillAround fillKind = iota
	fillBetween
)

// FillDirection selects how a gap fill is anchored: symmetrically around
// a target id, or between two known boundary ids. A between-fill walks
// forward when start <= end and backward otherwise; the two cases use
// mirrored window parameters but share the boundary logic, anchored at
// start either way.
type FillDirection struct {
	kind   fillKind
	around int64
	start  int64
	end    int64
}

// FillAround fills symmetrically around a target identity, splitting the
// requested count before and after it.
func FillAround(id int64) FillDirection {
	return FillDirection{kind: fillAround, around: id}
}

// FillBetween fills from one known boundary identity toward another.
func FillBetween(lowerOpenAt, upperOpenAt int64) FillDirection {
	return FillDirection{kind: fillBetween, start: lowerOpenAt, end: upperOpenAt}
}

func (d FillDirection) ascending() bool {
	return d.start <= d.end
}

// requestedSpan is the span a fill claims when the reply is empty or the
// axis has no stable pagination: the whole theoretical span for an
// around-fill, the caller-specified boundary for a between-fill. An empty
// reply means "there is nothing here", not "try again".
func (d FillDirection) requestedSpan() domain.IDRange {
	if d.kind == fillAround {
		return domain.FullSpan()
	}
	return domain.NormalizedRange(d.start, d.end)
}

// filledRange computes the coverage actually proven by a reply. The fetch
// is anchored at its boundary and extends only as far as returned ids
// reached; claiming wider coverage would silently hide real gaps, while
// narrower only causes a redundant refetch.
func (d FillDirection) filledRange(messageRange domain.IDRange) domain.IDRange {
	anchor := d.around
	if d.kind == fillBetween {
		anchor = d.start
	}
	out := messageRange
	if anchor < out.Lower {
		out.Lower = anchor
	}
	if anchor > out.Upper {
		out.Upper = anchor
	}
	return out
}

// window is the paginated request shape shared by every axis: anchor id,
// signed skip (negative fetches past the anchor toward newer ids), item
// limit and the two bounds.
type window struct {
	anchorID   int64
	skip       int
	limit      int
	upperBound int64
	lowerBound int64
}

func (d FillDirection) window(count int) window {
	limit := count
	if limit <= 0 {
		limit = 1
	}
	if limit > requestCeiling {
		limit = requestCeiling
	}
	switch {
	case d.kind == fillAround:
		return window{anchorID: d.around, skip: -(limit / 2), limit: limit}
	case d.ascending():
		return window{
			anchorID:   d.start,
			skip:       -limit,
			limit:      limit,
			upperBound: d.end,
			lowerBound: d.start,
		}
	default:
		return window{
			anchorID:   d.start,
			skip:       0,
			limit:      limit,
			upperBound: d.start,
			lowerBound: d.end,
		}
	}
}

// FillResult reports one gap fill: the range now proven covered, and the
// hole set remaining on the axis after the commit.
type FillResult struct {
	Fetched     bool
	FilledRange domain.IDRange
	Messages    int
	Remaining   []domain.IDRange
}

// FillHole shrinks the tracked gap on one (conversation, namespace, axis)
// by issuing a single bounded paginated fetch and committing the result.
// Transport failure leaves the gap untouched for a later retry. Fills on
// the same key are serialized and coalesced.
func (s *Syncer) FillHole(ctx context.Context, conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis, dir FillDirection, count int) (FillResult, error) {
	if err := axis.Validate(); err != nil {
		return FillResult{}, fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if ns.IsLocal() {
		return FillResult{}, fmt.Errorf("%w: cannot fill holes in local namespace %d", ErrInvariant, ns)
	}

	key := conv.String() + "/" + fmt.Sprint(ns) + "/" + axis.Encode()
	v, err, _ := s.fills.Do(key, func() (interface{}, error) {
		return s.fillHole(ctx, conv, ns, axis, dir, count)
	})
	if err != nil {
		return FillResult{}, err
	}
	return v.(FillResult), nil
}

func (s *Syncer) fillHole(ctx context.Context, conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis, dir FillDirection, count int) (FillResult, error) {
	peer, found, err := s.peerByConversation(ctx, conv)
	if err != nil {
		return FillResult{}, err
	}
	if !found {
		// No matching identity for this axis in the store: nothing to
		// fetch, not an error.
		return FillResult{}, nil
	}

	win := dir.window(count)
	raw, fetched := s.fetchWindow(ctx, peer, axis, win)
	if !fetched {
		if ctx.Err() != nil {
			return FillResult{}, ctx.Err()
		}
		return FillResult{}, nil
	}

	b := newBatch()
	reply, modified := telegram.ClassifyReply(raw)
	if modified {
		s.addReply(b, conv, reply)
	}

	var filled domain.IDRange
	if len(b.messages) == 0 || axis.Kind == domain.AxisLive {
		filled = dir.requestedSpan()
	} else {
		messageRange := domain.IDRange{Lower: b.messages[0].ID.ID, Upper: b.messages[0].ID.ID}
		for _, msg := range b.messages[1:] {
			if msg.ID.ID < messageRange.Lower {
				messageRange.Lower = msg.ID.ID
			}
			if msg.ID.ID > messageRange.Upper {
				messageRange.Upper = msg.ID.ID
			}
		}
		filled = dir.filledRange(messageRange)
	}

	if err := s.resolveAssociated(ctx, b); err != nil {
		return FillResult{}, err
	}

	result := FillResult{Fetched: true, FilledRange: filled, Messages: len(b.messages)}
	err = s.store.Update(ctx, func(tx Tx) error {
		if err := commitBatch(tx, b); err != nil {
			return err
		}
		holes, err := tx.Holes(conv, ns, axis)
		if err != nil {
			return err
		}
		remaining := domain.SubtractRange(holes, filled)
		if err := tx.SetHoles(conv, ns, axis, remaining); err != nil {
			return err
		}
		result.Remaining = remaining
		return nil
	})
	if err != nil {
		return FillResult{}, err
	}

	s.notify.HistoryChanged(conv)
	s.log.Debug("hole fill committed",
		zap.String("conversation", conv.String()),
		zap.String("axis", axis.Encode()),
		zap.Int64("filled_lower", filled.Lower),
		zap.Int64("filled_upper", filled.Upper),
		zap.Int("messages", result.Messages))
	return result, nil
}

// fetchWindow issues the axis-specific paginated request. Every axis maps
// to exactly one query shape. Transport errors are absorbed here; the
// merge step only ever sees normalized, possibly-empty data.
func (s *Syncer) fetchWindow(ctx context.Context, peer domain.Peer, axis domain.HoleAxis, win window) (tg.MessagesMessagesClass, bool) {
	input := telegram.InputPeer(peer)
	s.recordRequest(&s.metrics.HistoryRequests)

	var raw tg.MessagesMessagesClass
	var err error
	switch axis.Kind {
	case domain.AxisTag:
		raw, err = s.api.MessagesSearch(ctx, &tg.MessagesSearchRequest{
			Peer:      input,
			Q:         "",
			Filter:    telegram.SearchFilter(axis.Tag),
			OffsetID:  int(win.anchorID),
			AddOffset: win.skip,
			Limit:     win.limit,
			MaxID:     int(win.upperBound),
			MinID:     int(win.lowerBound),
		})
	default:
		raw, err = s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:      input,
			OffsetID:  int(win.anchorID),
			AddOffset: win.skip,
			Limit:     win.limit,
			MaxID:     int(win.upperBound),
			MinID:     int(win.lowerBound),
		})
	}
	if err != nil {
		s.recordTransportError(err)
		s.log.Debug("history fetch failed",
			zap.String("peer", peer.ID.String()),
			zap.String("axis", axis.Encode()),
			zap.Error(err))
		return nil, false
	}
	return raw, true
}

// ResetHoles reinstates the full-span hole for an axis, invalidating all
// previously filled ranges. Used by a full resync.
func (s *Syncer) ResetHoles(ctx context.Context, conv domain.ConversationID, ns domain.Namespace, axis domain.HoleAxis) error {
	if err := axis.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return s.store.Update(ctx, func(tx Tx) error {
		return tx.SetHoles(conv, ns, axis, []domain.IDRange{domain.FullSpan()})
	})
}
