package whatsapp

import (
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain/channel"
)

// toJID converts a chat id ("<digits>@c.us", "<id>@g.us") to a JID.
func toJID(chatID string) (types.JID, error) {
	user, server, found := strings.Cut(chatID, "@")
	if !found || user == "" {
		return types.JID{}, fmt.Errorf("malformed chat id %q", chatID)
	}
	switch server {
	case strings.TrimPrefix(channel.UserSuffix, "@"):
		return types.NewJID(user, types.DefaultUserServer), nil
	case strings.TrimPrefix(channel.GroupSuffix, "@"):
		return types.NewJID(user, types.GroupServer), nil
	default:
		return types.ParseJID(chatID)
	}
}

// toChatID is the inverse of toJID. Device suffixes are dropped.
func toChatID(jid types.JID) string {
	jid = jid.ToNonAD()
	if jid.Server == types.DefaultUserServer {
		return jid.User + channel.UserSuffix
	}
	return jid.User + "@" + jid.Server
}

// messageType names the content kind of msg.
func messageType(msg *waE2E.Message) string {
	switch {
	case msg == nil:
		return "unknown"
	case msg.GetConversation() != "", msg.GetExtendedTextMessage() != nil:
		return "chat"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt"
		}
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetLocationMessage() != nil:
		return "location"
	case msg.GetContactMessage() != nil:
		return "vcard"
	default:
		return "unknown"
	}
}

// extractText returns the text body or media caption of msg.
func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if text := msg.GetConversation(); text != "" {
		return text
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if img := msg.GetImageMessage(); img != nil {
		return img.GetCaption()
	}
	if vid := msg.GetVideoMessage(); vid != nil {
		return vid.GetCaption()
	}
	if doc := msg.GetDocumentMessage(); doc != nil {
		return doc.GetCaption()
	}
	return ""
}
