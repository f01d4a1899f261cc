package bot

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"contactbot/internal/domain"
)

// startedBot logs in, starts, and returns the fake hub the bot is bound to.
func startedBot(t *testing.T, api *fakeAPI) (*Bot, *fakeHub) {
	t.Helper()
	if api == nil {
		api = &fakeAPI{}
	}
	dialer := &fakeDialer{}
	b := newTestBot(t, api, dialer)
	ctx := context.Background()
	if err := b.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	return b, dialer.hub
}

func TestReceiveTextMessage(t *testing.T) {
	b, hub := startedBot(t, nil)

	var mu sync.Mutex
	var gotSender, gotText string
	var raw []domain.Message
	b.Events().OnTextMessage(func(senderID, text string) {
		mu.Lock()
		defer mu.Unlock()
		gotSender, gotText = senderID, text
	})
	b.Events().OnRawMessage(func(m domain.Message) {
		mu.Lock()
		defer mu.Unlock()
		raw = append(raw, m)
	})

	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID:       "MSG-42",
		SenderID: "U-2",
		Type:     domain.MessageText,
		Content:  "hi there",
		SendTime: time.Now(),
	})

	mu.Lock()
	defer mu.Unlock()
	if gotSender != "U-2" || gotText != "hi there" {
		t.Fatalf("text event = (%q, %q)", gotSender, gotText)
	}
	if len(raw) != 1 || raw[0].ID != "MSG-42" {
		t.Fatalf("raw events = %+v", raw)
	}
}

func TestReceiveMessageMarksRead(t *testing.T) {
	b, hub := startedBot(t, nil)
	_ = b

	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID:       "MSG-42",
		SenderID: "U-2",
		Type:     domain.MessageText,
		Content:  "hi",
	})

	calls := hub.calls("MarkMessagesRead")
	if len(calls) != 1 {
		t.Fatalf("expected 1 MarkMessagesRead, got %d", len(calls))
	}
	receipt := calls[0].args[0].(domain.ReadReceipt)
	if receipt.SenderID != "U-2" {
		t.Fatalf("receipt sender = %q", receipt.SenderID)
	}
	if len(receipt.IDs) != 1 || receipt.IDs[0] != "MSG-42" {
		t.Fatalf("receipt ids = %v", receipt.IDs)
	}
}

func TestReceiveMessageNoAckWhenDisabled(t *testing.T) {
	dialer := &fakeDialer{}
	b := newTestBot(t, &fakeAPI{}, dialer)
	b.cfg.Behavior.ReadMessagesOnReceive = false
	ctx := context.Background()
	if err := b.Login(ctx); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	dialer.hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-1", SenderID: "U-2", Type: domain.MessageText, Content: "hi",
	})
	if calls := dialer.hub.calls("MarkMessagesRead"); len(calls) != 0 {
		t.Fatalf("expected no ack, got %d", len(calls))
	}
}

func TestReceiveSoundMessage(t *testing.T) {
	b, hub := startedBot(t, nil)

	var mu sync.Mutex
	var gotURL string
	b.Events().OnSoundMessage(func(senderID, assetURL string) {
		mu.Lock()
		defer mu.Unlock()
		gotURL = assetURL
	})

	uri := "resdb:///" + strings.Repeat("a", 64) + ".brson"
	content, _ := json.Marshal(domain.AssetContent{Name: "clip", AssetURI: uri})
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-2", SenderID: "U-2", Type: domain.MessageSound, Content: string(content),
	})

	mu.Lock()
	defer mu.Unlock()
	want := b.cfg.Platform.AssetBaseURL + uri[assetTokenStart:assetTokenEnd]
	if gotURL != want {
		t.Fatalf("asset url = %q, want %q", gotURL, want)
	}
}

func TestReceiveObjectMessage(t *testing.T) {
	b, hub := startedBot(t, nil)

	var mu sync.Mutex
	var gotName, gotURL string
	b.Events().OnObjectMessage(func(senderID, name, assetURL string) {
		mu.Lock()
		defer mu.Unlock()
		gotName, gotURL = name, assetURL
	})

	uri := "resdb:///" + strings.Repeat("b", 64) + ".brson"
	content, _ := json.Marshal(domain.AssetContent{Name: "Cube", AssetURI: uri})
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-3", SenderID: "U-2", Type: domain.MessageObject, Content: string(content),
	})

	mu.Lock()
	defer mu.Unlock()
	if gotName != "Cube" {
		t.Fatalf("object name = %q", gotName)
	}
	if !strings.HasPrefix(gotURL, b.cfg.Platform.AssetBaseURL) {
		t.Fatalf("asset url = %q", gotURL)
	}
}

func TestReceiveSessionInvite(t *testing.T) {
	b, hub := startedBot(t, nil)

	var mu sync.Mutex
	var gotName, gotID string
	b.Events().OnSessionInvite(func(senderID, sessionName, sessionID string) {
		mu.Lock()
		defer mu.Unlock()
		gotName, gotID = sessionName, sessionID
	})

	content, _ := json.Marshal(domain.SessionInviteContent{Name: "My World", SessionID: "S-1"})
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-4", SenderID: "U-2", Type: domain.MessageSessionInvite, Content: string(content),
	})

	mu.Lock()
	defer mu.Unlock()
	if gotName != "My World" || gotID != "S-1" {
		t.Fatalf("invite = (%q, %q)", gotName, gotID)
	}
}

func TestReceiveMalformedContent(t *testing.T) {
	b, hub := startedBot(t, nil)

	var fired bool
	b.Events().OnSoundMessage(func(string, string) { fired = true })
	b.Events().OnObjectMessage(func(string, string, string) { fired = true })

	// Unparseable JSON, then a parseable payload with a truncated URI.
	// Neither may panic or emit.
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-5", SenderID: "U-2", Type: domain.MessageSound, Content: "{not json",
	})
	content, _ := json.Marshal(domain.AssetContent{Name: "x", AssetURI: "resdb:///short"})
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-6", SenderID: "U-2", Type: domain.MessageObject, Content: string(content),
	})

	if fired {
		t.Fatal("malformed content must not emit typed events")
	}
}

func TestReceiveUnknownTypeIgnored(t *testing.T) {
	_, hub := startedBot(t, nil)
	hub.deliver(t, "ReceiveMessage", domain.Message{
		ID: "MSG-7", SenderID: "U-2", Type: "Hologram", Content: "??",
	})
}

func TestReceiveEmptyArguments(t *testing.T) {
	_, hub := startedBot(t, nil)
	hub.deliver(t, "ReceiveMessage")
	hub.mu.Lock()
	handler := hub.handlers["ReceiveMessage"]
	hub.mu.Unlock()
	handler([]json.RawMessage{json.RawMessage(`"not an object"`)})
}

func TestMessageSentEvent(t *testing.T) {
	b, hub := startedBot(t, nil)

	var mu sync.Mutex
	var got []domain.Message
	b.Events().OnMessageSent(func(m domain.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	})

	hub.deliver(t, "MessageSent", domain.Message{
		ID: "MSG-8", RecipientID: "U-2", Type: domain.MessageText, Content: "echo",
	})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].ID != "MSG-8" {
		t.Fatalf("message sent events = %+v", got)
	}
}

func TestAssetURL(t *testing.T) {
	b := newTestBot(t, nil, nil)
	uri := "resdb:///" + strings.Repeat("c", 64) + ".brson"
	url, err := b.assetURL(uri)
	if err != nil {
		t.Fatalf("asset url: %v", err)
	}
	if want := b.cfg.Platform.AssetBaseURL + uri[9:74]; url != want {
		t.Fatalf("url = %q, want %q", url, want)
	}
	if _, err := b.assetURL("resdb:///short"); err == nil {
		t.Fatal("expected error for short uri")
	}
}
