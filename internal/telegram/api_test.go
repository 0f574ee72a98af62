package telegram

import (
	"testing"

	"github.com/gotd/td/tg"

	"tgmirror/internal/domain"
)

func TestMapMessage(t *testing.T) {
	conv := domain.ConversationID{Kind: domain.ConversationUser, ID: 1}

	header := &tg.MessageReplyHeader{}
	header.SetReplyToMsgID(5)
	m := &tg.Message{
		ID:        10,
		Date:      1010,
		Out:       true,
		Mentioned: true,
		Message:   "see https://example.com",
		PeerID:    &tg.PeerUser{UserID: 1},
		Entities:  []tg.MessageEntityClass{&tg.MessageEntityURL{Offset: 4, Length: 19}},
	}
	m.SetFromID(&tg.PeerUser{UserID: 2})
	m.SetReplyTo(header)
	m.SetEditDate(1020)
	m.SetGroupedID(777)

	msg, ok := MapMessage(conv, m)
	if !ok {
		t.Fatal("message not mapped")
	}
	if msg.ID != (domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: 10}) {
		t.Errorf("id = %+v", msg.ID)
	}
	if msg.From != (domain.ConversationID{Kind: domain.ConversationUser, ID: 2}) {
		t.Errorf("from = %+v", msg.From)
	}
	if !msg.Outgoing || msg.Timestamp != 1010 || msg.GroupingKey != 777 {
		t.Errorf("message = %+v", msg)
	}
	if msg.Attributes.ReplyTo == nil || msg.Attributes.ReplyTo.ID != 5 {
		t.Errorf("reply attribute = %v", msg.Attributes.ReplyTo)
	}
	if msg.Attributes.ReplyTo != nil && msg.Attributes.ReplyTo.Conversation != conv {
		t.Errorf("reply conversation = %v, want same conversation", msg.Attributes.ReplyTo.Conversation)
	}
	if msg.Attributes.EditedAt == nil || *msg.Attributes.EditedAt != 1020 {
		t.Errorf("edited attribute = %v", msg.Attributes.EditedAt)
	}
	if msg.Tags&domain.TagURL == 0 || msg.Tags&domain.TagMention == 0 {
		t.Errorf("tags = %#x, want url and mention bits", uint32(msg.Tags))
	}
}

func TestMapMessageSkipsNonMessage(t *testing.T) {
	conv := domain.ConversationID{Kind: domain.ConversationUser, ID: 1}
	if _, ok := MapMessage(conv, &tg.MessageEmpty{ID: 10}); ok {
		t.Error("empty message mapped")
	}
	if _, ok := MapMessage(conv, &tg.MessageService{ID: 10}); ok {
		t.Error("service message mapped")
	}
}

func TestClassifyDocument(t *testing.T) {
	cases := []struct {
		name  string
		attrs []tg.DocumentAttributeClass
		want  domain.MediaKind
	}{
		{"plain", nil, domain.MediaFile},
		{"sticker", []tg.DocumentAttributeClass{&tg.DocumentAttributeSticker{}}, domain.MediaSticker},
		{"gif", []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAnimated{},
			&tg.DocumentAttributeVideo{},
		}, domain.MediaGIF},
		{"voice", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}, domain.MediaVoice},
		{"music", []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{}}, domain.MediaMusic},
		{"video", []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}, domain.MediaVideo},
	}
	for _, tc := range cases {
		if got := classifyDocument(&tg.Document{Attributes: tc.attrs}); got != tc.want {
			t.Errorf("%s: kind = %d, want %d", tc.name, got, tc.want)
		}
	}
}

func TestMapChat(t *testing.T) {
	chat := &tg.Chat{ID: 5, Title: "group", Date: 1000}
	chat.SetMigratedTo(&tg.InputChannel{ChannelID: 50})
	peer, ok := MapChat(chat)
	if !ok {
		t.Fatal("chat not mapped")
	}
	if peer.MigratedTo != 50 {
		t.Errorf("migrated to = %d, want 50", peer.MigratedTo)
	}
	if peer.IncludedInChatList() {
		t.Error("migrated group included in chat list")
	}

	channel := &tg.Channel{ID: 8, Title: "news", Broadcast: true}
	channel.SetAccessHash(99)
	peer, ok = MapChat(channel)
	if !ok {
		t.Fatal("channel not mapped")
	}
	if peer.AccessHash != 99 || !peer.Broadcast {
		t.Errorf("channel peer = %+v", peer)
	}

	forbidden, ok := MapChat(&tg.ChannelForbidden{ID: 9, Title: "gone"})
	if !ok {
		t.Fatal("forbidden channel not mapped")
	}
	if forbidden.IncludedInChatList() {
		t.Error("forbidden channel included in chat list")
	}

	if _, ok := MapChat(&tg.ChatEmpty{ID: 1}); ok {
		t.Error("empty chat mapped")
	}
}

func TestMapPresence(t *testing.T) {
	p, ok := MapPresence(&tg.UserStatusOffline{WasOnline: 500})
	if !ok || p.Status != domain.PresenceOffline || p.LastActivity != 500 {
		t.Errorf("offline presence = %+v ok=%v", p, ok)
	}
	p, ok = MapPresence(&tg.UserStatusOnline{Expires: 600})
	if !ok || p.Status != domain.PresenceOnline {
		t.Errorf("online presence = %+v ok=%v", p, ok)
	}
	if _, ok := MapPresence(&tg.UserStatusEmpty{}); ok {
		t.Error("empty status mapped")
	}
}

func TestClassifyReply(t *testing.T) {
	reply, ok := ClassifyReply(&tg.MessagesChannelMessages{
		Messages: []tg.MessageClass{&tg.Message{ID: 1}},
		Count:    40,
		Pts:      7,
	})
	if !ok {
		t.Fatal("channel reply not classified")
	}
	if !reply.HasPts || reply.Pts != 7 || reply.Total != 40 {
		t.Errorf("reply = %+v", reply)
	}

	if _, ok := ClassifyReply(&tg.MessagesMessagesNotModified{Count: 40}); ok {
		t.Error("not-modified reply classified as modified")
	}
}

func TestSearchFilter(t *testing.T) {
	if _, ok := SearchFilter(domain.TagVoice).(*tg.InputMessagesFilterVoice); !ok {
		t.Error("voice tag filter mismatch")
	}
	if _, ok := SearchFilter(domain.TagPhotoVideo).(*tg.InputMessagesFilterPhotoVideo); !ok {
		t.Error("photo/video tag filter mismatch")
	}
	if _, ok := SearchFilter(0).(*tg.InputMessagesFilterEmpty); !ok {
		t.Error("zero tag filter mismatch")
	}
}
