package http

import (
	"strings"

	"converta/internal/entities"
)

// evolutionEnvelope is the Evolution API webhook body for messages.upsert
type evolutionEnvelope struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     struct {
		Key struct {
			RemoteJID string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
			ID        string `json:"id"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

func (e evolutionEnvelope) inbound() (entities.InboundMessage, bool) {
	event := strings.ToLower(strings.ReplaceAll(e.Event, "_", "."))
	if event != "messages.upsert" || e.Data.Key.FromMe || isGroupJID(e.Data.Key.RemoteJID) {
		return entities.InboundMessage{}, false
	}
	text := e.Data.Message.Conversation
	if text == "" {
		text = e.Data.Message.ExtendedTextMessage.Text
	}
	from := jidUser(e.Data.Key.RemoteJID)
	if strings.TrimSpace(text) == "" || from == "" || e.Instance == "" {
		return entities.InboundMessage{}, false
	}
	return entities.InboundMessage{
		Channel:   entities.ChannelWhatsApp,
		Provider:  entities.ProviderEvolution,
		RouteKey:  e.Instance,
		SessionID: from,
		From:      from,
		Text:      text,
		MessageID: e.Data.Key.ID,
	}, true
}

// venomEnvelope is the event posted by a venom-bot server
type venomEnvelope struct {
	Event      string `json:"event"`
	Session    string `json:"session"`
	From       string `json:"from"`
	Body       string `json:"body"`
	Type       string `json:"type"`
	IsGroupMsg bool   `json:"isGroupMsg"`
	FromMe     bool   `json:"fromMe"`
	ID         string `json:"id"`
}

func (v venomEnvelope) inbound() (entities.InboundMessage, bool) {
	switch strings.ToLower(v.Event) {
	case "", "onmessage", "message":
	default:
		return entities.InboundMessage{}, false
	}
	if v.IsGroupMsg || v.FromMe || isGroupJID(v.From) || (v.Type != "" && v.Type != "chat") {
		return entities.InboundMessage{}, false
	}
	from := jidUser(v.From)
	if strings.TrimSpace(v.Body) == "" || from == "" || v.Session == "" {
		return entities.InboundMessage{}, false
	}
	return entities.InboundMessage{
		Channel:   entities.ChannelWhatsApp,
		Provider:  entities.ProviderVenom,
		RouteKey:  v.Session,
		SessionID: from,
		From:      from,
		Text:      v.Body,
		MessageID: v.ID,
	}, true
}

// metaEnvelope is a Messenger/Instagram webhook delivery
type metaEnvelope struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string `json:"id"`
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message *struct {
				MID    string `json:"mid"`
				Text   string `json:"text"`
				IsEcho bool   `json:"is_echo"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

func (m metaEnvelope) inbound() []entities.InboundMessage {
	channel := entities.ChannelMessenger
	if m.Object == "instagram" {
		channel = entities.ChannelInstagram
	}
	var out []entities.InboundMessage
	for _, entry := range m.Entry {
		for _, ev := range entry.Messaging {
			if ev.Message == nil || ev.Message.IsEcho || strings.TrimSpace(ev.Message.Text) == "" || ev.Sender.ID == "" {
				continue
			}
			page := ev.Recipient.ID
			if page == "" {
				page = entry.ID
			}
			out = append(out, entities.InboundMessage{
				Channel:   channel,
				Provider:  entities.ProviderMeta,
				RouteKey:  page,
				SessionID: ev.Sender.ID,
				From:      ev.Sender.ID,
				Text:      ev.Message.Text,
				MessageID: ev.Message.MID,
			})
		}
	}
	return out
}

func isGroupJID(jid string) bool {
	return strings.HasSuffix(jid, "@g.us") || strings.HasSuffix(jid, "@broadcast")
}

// jidUser strips the server and device parts: "5511999990000:3@s.whatsapp.net" -> "5511999990000"
func jidUser(jid string) string {
	user, _, _ := strings.Cut(jid, "@")
	user, _, _ = strings.Cut(user, ":")
	return strings.TrimSpace(user)
}
