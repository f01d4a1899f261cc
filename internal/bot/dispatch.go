package bot

import (
	"context"
	"encoding/json"
	"fmt"

	"contactbot/internal/domain"
	"contactbot/internal/metrics"
)

// Positions of the asset token inside an asset URI: the canonical download
// URL is the asset base plus the token at this fixed offset.
const (
	assetTokenStart = 9
	assetTokenEnd   = 74
)

// registerHandlers subscribes the dispatcher to the hub's inbound events.
// Called once per connection handle.
func (b *Bot) registerHandlers(hub domain.Hub) {
	hub.On("ReceiveMessage", func(args []json.RawMessage) {
		b.handleReceiveMessage(hub, args)
	})
	hub.On("MessageSent", func(args []json.RawMessage) {
		b.handleMessageSent(args)
	})
}

// handleReceiveMessage normalizes one inbound frame into typed events.
// Malformed payloads are logged per message and never escape the
// dispatcher.
func (b *Bot) handleReceiveMessage(hub domain.Hub, args []json.RawMessage) {
	if len(args) == 0 {
		b.logger.Warn("ReceiveMessage event without arguments")
		return
	}

	var msg domain.Message
	if err := json.Unmarshal(args[0], &msg); err != nil {
		b.logger.Warn("undecodable inbound message", "err", err)
		return
	}

	metrics.MessagesReceived.Inc()
	b.logger.Info("received message",
		"type", msg.Type, "sender", msg.SenderID, "id", msg.ID)

	if b.cfg.Behavior.ReadMessagesOnReceive {
		b.markRead(hub, msg)
	}

	b.events.emitRaw(msg)

	switch msg.Type {
	case domain.MessageText:
		b.events.emitText(msg.SenderID, msg.Content)

	case domain.MessageSound:
		_, url, err := b.parseAssetContent(msg.Content)
		if err != nil {
			b.logger.Error("bad sound message content", "sender", msg.SenderID, "err", err)
			return
		}
		b.events.emitSound(msg.SenderID, url)

	case domain.MessageObject:
		content, url, err := b.parseAssetContent(msg.Content)
		if err != nil {
			b.logger.Error("bad object message content", "sender", msg.SenderID, "err", err)
			return
		}
		b.events.emitObject(msg.SenderID, content.Name, url)

	case domain.MessageSessionInvite:
		var invite domain.SessionInviteContent
		if err := json.Unmarshal([]byte(msg.Content), &invite); err != nil {
			b.logger.Error("bad session invite content", "sender", msg.SenderID, "err", err)
			return
		}
		b.events.emitInvite(msg.SenderID, invite.Name, invite.SessionID)

	default:
		b.logger.Warn("couldn't find a message type match", "type", msg.Type)
	}
}

// markRead acknowledges receipt, best effort: a failure is logged and does
// not block further dispatch.
func (b *Bot) markRead(hub domain.Hub, msg domain.Message) {
	receipt := domain.ReadReceipt{
		SenderID: msg.SenderID,
		ReadTime: b.now(),
		IDs:      []string{msg.ID},
	}
	if err := hub.Send(context.Background(), "MarkMessagesRead", receipt); err != nil {
		b.logger.Error("failed to mark message as read", "id", msg.ID, "err", err)
	}
}

func (b *Bot) handleMessageSent(args []json.RawMessage) {
	if len(args) == 0 {
		return
	}
	var msg domain.Message
	if err := json.Unmarshal(args[0], &msg); err != nil {
		b.logger.Warn("undecodable MessageSent event", "err", err)
		return
	}
	b.logger.Info("sent message confirmed",
		"type", msg.Type, "recipient", msg.RecipientID)
	b.events.emitMessageSent(msg)
}

// parseAssetContent decodes a Sound/Object content payload and derives the
// canonical asset URL from the embedded asset URI.
func (b *Bot) parseAssetContent(content string) (domain.AssetContent, string, error) {
	var ac domain.AssetContent
	if err := json.Unmarshal([]byte(content), &ac); err != nil {
		return ac, "", fmt.Errorf("parse asset content: %w", err)
	}
	url, err := b.assetURL(ac.AssetURI)
	if err != nil {
		return ac, "", err
	}
	return ac, url, nil
}

func (b *Bot) assetURL(assetURI string) (string, error) {
	if len(assetURI) < assetTokenEnd {
		return "", fmt.Errorf("asset uri too short: %q", assetURI)
	}
	return b.cfg.Platform.AssetBaseURL + assetURI[assetTokenStart:assetTokenEnd], nil
}
