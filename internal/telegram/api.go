package telegram

import (
	"context"

	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"tgmirror/internal/domain"
)

// API is the narrow slice of the Telegram RPC surface the sync engine
// issues. *tg.Client satisfies it; tests supply a fake.
type API interface {
	MessagesGetHistory(ctx context.Context, request *tg.MessagesGetHistoryRequest) (tg.MessagesMessagesClass, error)
	MessagesSearch(ctx context.Context, request *tg.MessagesSearchRequest) (tg.MessagesMessagesClass, error)
	MessagesGetMessages(ctx context.Context, id []tg.InputMessageClass) (tg.MessagesMessagesClass, error)
	ChannelsGetMessages(ctx context.Context, request *tg.ChannelsGetMessagesRequest) (tg.MessagesMessagesClass, error)
	MessagesGetDialogs(ctx context.Context, request *tg.MessagesGetDialogsRequest) (tg.MessagesDialogsClass, error)
	MessagesGetPinnedDialogs(ctx context.Context, folderID int) (*tg.MessagesPeerDialogs, error)
}

var _ API = (*tg.Client)(nil)

// FloodWaitSeconds classifies a transport error as a rate-limit wait. The
// engine treats flood waits like any other transport failure, but reports
// them separately in sync metrics.
func FloodWaitSeconds(err error) (int64, bool) {
	wait, ok := tgerr.AsFloodWait(err)
	if !ok {
		return 0, false
	}
	seconds := int64(wait.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return seconds, true
}

// ModifiedReply is a history reply that actually carries items, plus the
// channel sequence stamp when the reply came from a channel.
type ModifiedReply struct {
	Messages []tg.MessageClass
	Users    []tg.UserClass
	Chats    []tg.ChatClass
	Total    int
	Pts      int64
	HasPts   bool
}

// ClassifyReply splits a history reply into its modified payload. ok is
// false for the not-modified variant.
func ClassifyReply(reply tg.MessagesMessagesClass) (ModifiedReply, bool) {
	switch m := reply.(type) {
	case *tg.MessagesMessages:
		return ModifiedReply{Messages: m.Messages, Users: m.Users, Chats: m.Chats, Total: len(m.Messages)}, true
	case *tg.MessagesMessagesSlice:
		return ModifiedReply{Messages: m.Messages, Users: m.Users, Chats: m.Chats, Total: m.Count}, true
	case *tg.MessagesChannelMessages:
		return ModifiedReply{
			Messages: m.Messages,
			Users:    m.Users,
			Chats:    m.Chats,
			Total:    m.Count,
			Pts:      int64(m.Pts),
			HasPts:   true,
		}, true
	default:
		return ModifiedReply{}, false
	}
}

// ConversationFromPeer maps a wire peer reference onto a conversation id.
func ConversationFromPeer(peer tg.PeerClass) (domain.ConversationID, bool) {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return domain.ConversationID{Kind: domain.ConversationUser, ID: p.UserID}, true
	case *tg.PeerChat:
		return domain.ConversationID{Kind: domain.ConversationGroup, ID: p.ChatID}, true
	case *tg.PeerChannel:
		return domain.ConversationID{Kind: domain.ConversationChannel, ID: p.ChannelID}, true
	default:
		return domain.ConversationID{}, false
	}
}

// InputPeer builds the wire input peer for a stored peer. Users and
// channels need the access hash captured at upsert time.
func InputPeer(peer domain.Peer) tg.InputPeerClass {
	switch peer.ID.Kind {
	case domain.ConversationUser:
		return &tg.InputPeerUser{UserID: peer.ID.ID, AccessHash: peer.AccessHash}
	case domain.ConversationGroup:
		return &tg.InputPeerChat{ChatID: peer.ID.ID}
	case domain.ConversationChannel:
		return &tg.InputPeerChannel{ChannelID: peer.ID.ID, AccessHash: peer.AccessHash}
	default:
		return &tg.InputPeerEmpty{}
	}
}

// InputChannel builds the wire channel reference for a stored channel peer.
func InputChannel(peer domain.Peer) (*tg.InputChannel, bool) {
	if peer.ID.Kind != domain.ConversationChannel {
		return nil, false
	}
	return &tg.InputChannel{ChannelID: peer.ID.ID, AccessHash: peer.AccessHash}, true
}

// MapUser normalizes a wire user into a peer snapshot.
func MapUser(user *tg.User) domain.Peer {
	hash, _ := user.GetAccessHash()
	title := user.FirstName
	if user.LastName != "" {
		if title != "" {
			title += " "
		}
		title += user.LastName
	}
	username, _ := user.GetUsername()
	return domain.Peer{
		ID:         domain.ConversationID{Kind: domain.ConversationUser, ID: user.ID},
		AccessHash: hash,
		Title:      title,
		Username:   username,
		IsContact:  user.Contact,
	}
}

// MapChat normalizes a wire chat or channel into a peer snapshot. ok is
// false for variants that carry no usable state.
func MapChat(chat tg.ChatClass) (domain.Peer, bool) {
	switch c := chat.(type) {
	case *tg.Chat:
		migrated := int64(0)
		if to, ok := c.GetMigratedTo(); ok {
			if input, ok := to.(*tg.InputChannel); ok {
				migrated = input.ChannelID
			}
		}
		return domain.Peer{
			ID:          domain.ConversationID{Kind: domain.ConversationGroup, ID: c.ID},
			Title:       c.Title,
			Creator:     c.Creator,
			Left:        c.Left,
			Deactivated: c.Deactivated,
			CreatedAt:   int64(c.Date),
			MigratedTo:  migrated,
		}, true
	case *tg.Channel:
		hash, _ := c.GetAccessHash()
		username, _ := c.GetUsername()
		return domain.Peer{
			ID:         domain.ConversationID{Kind: domain.ConversationChannel, ID: c.ID},
			AccessHash: hash,
			Title:      c.Title,
			Username:   username,
			Creator:    c.Creator,
			Left:       c.Left,
			Broadcast:  c.Broadcast,
			CreatedAt:  int64(c.Date),
		}, true
	case *tg.ChatForbidden:
		return domain.Peer{
			ID:     domain.ConversationID{Kind: domain.ConversationGroup, ID: c.ID},
			Title:  c.Title,
			Kicked: true,
		}, true
	case *tg.ChannelForbidden:
		return domain.Peer{
			ID:     domain.ConversationID{Kind: domain.ConversationChannel, ID: c.ID},
			Title:  c.Title,
			Kicked: true,
		}, true
	default:
		return domain.Peer{}, false
	}
}

// MapPresence normalizes a wire user status. ok is false when the status
// carries no activity information.
func MapPresence(status tg.UserStatusClass) (domain.Presence, bool) {
	switch s := status.(type) {
	case *tg.UserStatusOnline:
		return domain.Presence{Status: domain.PresenceOnline, LastActivity: int64(s.Expires)}, true
	case *tg.UserStatusOffline:
		return domain.Presence{Status: domain.PresenceOffline, LastActivity: int64(s.WasOnline)}, true
	case *tg.UserStatusRecently:
		return domain.Presence{Status: domain.PresenceRecently}, true
	default:
		return domain.Presence{}, false
	}
}

// MapMessage normalizes a wire message into the stored shape. ok is false
// for empty or service messages, which the engine skips rather than fails.
func MapMessage(conv domain.ConversationID, msg tg.MessageClass) (domain.Message, bool) {
	m, ok := msg.(*tg.Message)
	if !ok || m == nil || m.ID <= 0 {
		return domain.Message{}, false
	}
	out := domain.Message{
		ID:        domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: int64(m.ID)},
		Timestamp: int64(m.Date),
		Outgoing:  m.Out,
		Text:      m.Message,
	}
	if from, ok := m.GetFromID(); ok {
		if sender, ok := ConversationFromPeer(from); ok {
			out.From = sender
		}
	}
	if grouped, ok := m.GetGroupedID(); ok {
		out.GroupingKey = grouped
	}
	if edit, ok := m.GetEditDate(); ok {
		ts := int64(edit)
		out.Attributes.EditedAt = &ts
	}
	if views, ok := m.GetViews(); ok {
		v := int32(views)
		out.Attributes.Views = &v
	}
	if reply, ok := m.GetReplyTo(); ok {
		if header, ok := reply.(*tg.MessageReplyHeader); ok {
			if replyID, ok := header.GetReplyToMsgID(); ok {
				target := domain.MessageID{Conversation: conv, Namespace: domain.NamespaceCloud, ID: int64(replyID)}
				if replyPeer, ok := header.GetReplyToPeerID(); ok {
					if replyConv, ok := ConversationFromPeer(replyPeer); ok {
						target.Conversation = replyConv
					}
				}
				out.Attributes.ReplyTo = &target
			}
		}
	}
	if media, ok := m.GetMedia(); ok {
		out.MediaKind, out.MediaID = mapMedia(media)
	}
	out.Tags = deriveTags(out, m)
	return out, true
}

func mapMedia(media tg.MessageMediaClass) (domain.MediaKind, int64) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		if photo, ok := m.GetPhoto(); ok {
			if p, ok := photo.(*tg.Photo); ok {
				return domain.MediaPhoto, p.ID
			}
		}
		return domain.MediaPhoto, 0
	case *tg.MessageMediaDocument:
		doc, ok := m.GetDocument()
		if !ok {
			return domain.MediaFile, 0
		}
		d, ok := doc.(*tg.Document)
		if !ok {
			return domain.MediaFile, 0
		}
		return classifyDocument(d), d.ID
	default:
		return domain.MediaNone, 0
	}
}

func classifyDocument(doc *tg.Document) domain.MediaKind {
	kind := domain.MediaFile
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeSticker:
			return domain.MediaSticker
		case *tg.DocumentAttributeAnimated:
			kind = domain.MediaGIF
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				return domain.MediaVoice
			}
			kind = domain.MediaMusic
		case *tg.DocumentAttributeVideo:
			if kind == domain.MediaFile {
				kind = domain.MediaVideo
			}
		}
	}
	return kind
}

func deriveTags(out domain.Message, m *tg.Message) domain.Tag {
	var tags domain.Tag
	switch out.MediaKind {
	case domain.MediaPhoto, domain.MediaVideo:
		tags |= domain.TagPhotoVideo
	case domain.MediaFile:
		tags |= domain.TagFile
	case domain.MediaMusic:
		tags |= domain.TagMusic
	case domain.MediaGIF:
		tags |= domain.TagGIF
	case domain.MediaVoice:
		tags |= domain.TagVoice
	}
	if m.Mentioned {
		tags |= domain.TagMention
	}
	for _, entity := range m.Entities {
		switch entity.(type) {
		case *tg.MessageEntityURL, *tg.MessageEntityTextURL:
			tags |= domain.TagURL
		}
	}
	return tags
}

// SearchFilter maps a filter tag onto the wire search filter.
func SearchFilter(tag domain.Tag) tg.MessagesFilterClass {
	switch tag {
	case domain.TagPhotoVideo:
		return &tg.InputMessagesFilterPhotoVideo{}
	case domain.TagFile:
		return &tg.InputMessagesFilterDocument{}
	case domain.TagMusic:
		return &tg.InputMessagesFilterMusic{}
	case domain.TagURL:
		return &tg.InputMessagesFilterURL{}
	case domain.TagGIF:
		return &tg.InputMessagesFilterGif{}
	case domain.TagVoice:
		return &tg.InputMessagesFilterVoice{}
	case domain.TagMention:
		return &tg.InputMessagesFilterMyMentions{}
	default:
		return &tg.InputMessagesFilterEmpty{}
	}
}
