package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"tgmirror/internal/domain"
)

func TestFillHoleAscendingRange(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = []domain.IDRange{{Lower: 100, Upper: 200}}

	var got *tg.MessagesGetHistoryRequest
	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		got = req
		ids := make([]int, 0, 50)
		for id := 199; id >= 150; id-- {
			ids = append(ids, id)
		}
		return historyReply(ids...), nil
	}}
	s := New(store, api)

	result, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud, axis, FillBetween(99, 200), 100)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if got == nil {
		t.Fatal("no history request issued")
	}
	if got.OffsetID != 99 || got.AddOffset != -100 || got.Limit != 100 {
		t.Errorf("window = offset %d add %d limit %d, want 99 -100 100", got.OffsetID, got.AddOffset, got.Limit)
	}
	if got.MaxID != 200 || got.MinID != 99 {
		t.Errorf("bounds = [%d, %d], want [99, 200]", got.MinID, got.MaxID)
	}
	if !result.Fetched {
		t.Fatal("result not marked fetched")
	}
	if result.FilledRange != (domain.IDRange{Lower: 99, Upper: 199}) {
		t.Errorf("filled range = %+v, want [99, 199]", result.FilledRange)
	}
	if result.Messages != 50 {
		t.Errorf("messages = %d, want 50", result.Messages)
	}
	want := []domain.IDRange{{Lower: 200, Upper: 200}}
	if len(result.Remaining) != 1 || result.Remaining[0] != want[0] {
		t.Errorf("remaining = %+v, want %+v", result.Remaining, want)
	}
	stored, _ := store.Holes(conv, domain.NamespaceCloud, axis)
	if len(stored) != 1 || stored[0] != want[0] {
		t.Errorf("stored holes = %+v, want %+v", stored, want)
	}
	if _, ok := store.messages[domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: 150}]; !ok {
		t.Error("fetched message 150 not committed")
	}
}

func TestFillHoleDescendingWindow(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)

	var got *tg.MessagesGetHistoryRequest
	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		got = req
		return historyReply(), nil
	}}
	s := New(store, api)

	_, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud,
		domain.HoleAxis{Kind: domain.AxisEverywhere}, FillBetween(300, 101), 50)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if got.OffsetID != 300 || got.AddOffset != 0 || got.Limit != 50 {
		t.Errorf("window = offset %d add %d limit %d, want 300 0 50", got.OffsetID, got.AddOffset, got.Limit)
	}
	if got.MaxID != 300 || got.MinID != 101 {
		t.Errorf("bounds = [%d, %d], want [101, 300]", got.MinID, got.MaxID)
	}
}

func TestFillHoleEmptyReplyClaimsRequestedSpan(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = []domain.IDRange{domain.FullSpan()}

	s := New(store, &fakeAPI{})
	result, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud, axis, FillAround(500), 40)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if !result.Fetched {
		t.Fatal("result not marked fetched")
	}
	if result.FilledRange != domain.FullSpan() {
		t.Errorf("filled range = %+v, want full span", result.FilledRange)
	}
	if len(result.Remaining) != 0 {
		t.Errorf("remaining = %+v, want empty", result.Remaining)
	}
	stored, _ := store.Holes(conv, domain.NamespaceCloud, axis)
	if len(stored) != 0 {
		t.Errorf("stored holes = %+v, want empty", stored)
	}
}

func TestFillHoleLiveAxisReplacesRequestedSpan(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)
	axis := domain.HoleAxis{Kind: domain.AxisLive}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = []domain.IDRange{{Lower: 100, Upper: 200}}

	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		return historyReply(150, 151), nil
	}}
	s := New(store, api)

	result, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud, axis, FillBetween(99, 200), 100)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	// A live-axis reply has no stable pagination; the whole requested
	// span counts as covered even though only two ids came back.
	if result.FilledRange != (domain.IDRange{Lower: 99, Upper: 200}) {
		t.Errorf("filled range = %+v, want [99, 200]", result.FilledRange)
	}
	if len(result.Remaining) != 0 {
		t.Errorf("remaining = %+v, want empty", result.Remaining)
	}
}

func TestFillHoleTagAxisUsesSearch(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)

	var got *tg.MessagesSearchRequest
	historyCalled := false
	api := &fakeAPI{
		search: func(req *tg.MessagesSearchRequest) (tg.MessagesMessagesClass, error) {
			got = req
			return historyReply(), nil
		},
		history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
			historyCalled = true
			return historyReply(), nil
		},
	}
	s := New(store, api)

	_, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud,
		domain.HoleAxis{Kind: domain.AxisTag, Tag: domain.TagVoice}, FillAround(10), 20)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if historyCalled {
		t.Error("tag axis fell back to plain history request")
	}
	if got == nil {
		t.Fatal("no search request issued")
	}
	if _, ok := got.Filter.(*tg.InputMessagesFilterVoice); !ok {
		t.Errorf("filter = %T, want InputMessagesFilterVoice", got.Filter)
	}
}

func TestFillHoleTransportFailureLeavesGap(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	before := []domain.IDRange{{Lower: 100, Upper: 200}}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = before

	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		return nil, errors.New("connection reset")
	}}
	s := New(store, api)

	result, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud, axis, FillBetween(99, 200), 100)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if result.Fetched {
		t.Error("failed fetch marked as fetched")
	}
	stored, _ := store.Holes(conv, domain.NamespaceCloud, axis)
	if len(stored) != 1 || stored[0] != before[0] {
		t.Errorf("stored holes = %+v, want untouched %+v", stored, before)
	}
	if m := s.MetricsSnapshot(); m.TransportErrors != 1 {
		t.Errorf("transport errors = %d, want 1", m.TransportErrors)
	}
}

func TestFillHoleUnknownPeer(t *testing.T) {
	store := newMemStore()
	requested := false
	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		requested = true
		return historyReply(), nil
	}}
	s := New(store, api)

	result, err := s.FillHole(context.Background(), userConv(404), domain.NamespaceCloud,
		domain.HoleAxis{Kind: domain.AxisEverywhere}, FillAround(1), 10)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if requested {
		t.Error("request issued for unknown peer")
	}
	if result.Fetched {
		t.Error("result marked fetched for unknown peer")
	}
}

func TestFillHoleRejectsBadInput(t *testing.T) {
	s := New(newMemStore(), &fakeAPI{})

	_, err := s.FillHole(context.Background(), userConv(1), domain.NamespaceCloud,
		domain.HoleAxis{Kind: domain.AxisTag, Tag: domain.TagVoice | domain.TagGIF}, FillAround(1), 10)
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("mixed-tag axis: err = %v, want ErrInvariant", err)
	}

	_, err = s.FillHole(context.Background(), userConv(1), domain.NamespaceLocal,
		domain.HoleAxis{Kind: domain.AxisEverywhere}, FillAround(1), 10)
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("local namespace: err = %v, want ErrInvariant", err)
	}
}

func TestFillHoleClampsRequestCount(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)

	var got *tg.MessagesGetHistoryRequest
	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		got = req
		return historyReply(), nil
	}}
	s := New(store, api)

	_, err := s.FillHole(context.Background(), conv, domain.NamespaceCloud,
		domain.HoleAxis{Kind: domain.AxisEverywhere}, FillAround(50), 1000)
	if err != nil {
		t.Fatalf("FillHole: %v", err)
	}
	if got.Limit != requestCeiling {
		t.Errorf("limit = %d, want %d", got.Limit, requestCeiling)
	}
	if got.AddOffset != -(requestCeiling / 2) {
		t.Errorf("add offset = %d, want %d", got.AddOffset, -(requestCeiling / 2))
	}
}

func TestHistoryWalksStoredMessages(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	for _, id := range []int64{10, 20, 30} {
		msg := domain.Message{
			ID:        domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: id},
			Timestamp: 1000 + id,
		}
		store.messages[msg.ID] = msg
	}
	s := New(store, &fakeAPI{})

	anchor := domain.OrderingKey{
		Timestamp: 1020,
		ID:        domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: 20},
	}
	newer, err := s.History(context.Background(), conv, domain.NamespaceCloud, anchor, false, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(newer) != 1 || newer[0].ID.ID != 30 {
		t.Errorf("forward walk = %+v, want only id 30", newer)
	}
	older, err := s.History(context.Background(), conv, domain.NamespaceCloud, anchor, true, 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(older) != 1 || older[0].ID.ID != 10 {
		t.Errorf("backward walk = %+v, want only id 10", older)
	}
}

func TestFillHoleCoalescesConcurrentFills(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	seedPeer(store, conv)
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = []domain.IDRange{{Lower: 100, Upper: 200}}

	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	api := &fakeAPI{history: func(req *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return historyReply(150, 151, 152), nil
	}}
	s := New(store, api)

	fill := func() (FillResult, error) {
		return s.FillHole(context.Background(), conv, domain.NamespaceCloud, axis, FillBetween(99, 200), 50)
	}

	var wg sync.WaitGroup
	results := make([]FillResult, 2)
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = fill()
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = fill()
	}()
	// Give the second fill time to reach the in-flight key before the
	// blocked fetch is released.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range errs {
		if errs[i] != nil {
			t.Fatalf("fill %d: %v", i, errs[i])
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("history fetches = %d, want the duplicate fill coalesced into 1", got)
	}
	if results[0].Messages != 3 || results[1].Messages != 3 {
		t.Errorf("results = %+v / %+v, want both carrying the shared fetch", results[0], results[1])
	}
	if results[0].FilledRange != results[1].FilledRange {
		t.Errorf("filled ranges diverge: %+v != %+v", results[0].FilledRange, results[1].FilledRange)
	}
}

func TestResetHoles(t *testing.T) {
	store := newMemStore()
	conv := userConv(1)
	axis := domain.HoleAxis{Kind: domain.AxisEverywhere}
	store.holes[holeKey{conv, domain.NamespaceCloud, axis.Encode()}] = nil

	s := New(store, &fakeAPI{})
	if err := s.ResetHoles(context.Background(), conv, domain.NamespaceCloud, axis); err != nil {
		t.Fatalf("ResetHoles: %v", err)
	}
	stored, _ := store.Holes(conv, domain.NamespaceCloud, axis)
	if len(stored) != 1 || stored[0] != domain.FullSpan() {
		t.Errorf("stored holes = %+v, want full span", stored)
	}
}
