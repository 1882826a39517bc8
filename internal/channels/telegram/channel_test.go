package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

type fakeClient struct {
	mu    sync.Mutex
	sent  []string
	chats []int64
	sig   chan struct{}
}

func newFakeClient() *fakeClient {
	return &fakeClient{sig: make(chan struct{}, 64)}
}

func (f *fakeClient) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	f.sent = append(f.sent, params.Text)
	f.chats = append(f.chats, params.ChatID.(int64))
	f.mu.Unlock()
	f.sig <- struct{}{}
	return &tgmodels.Message{ID: len(f.sent)}, nil
}

func (f *fakeClient) Start(ctx context.Context) { <-ctx.Done() }

func (f *fakeClient) waitFor(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-f.sig:
		case <-deadline:
			t.Fatalf("timed out waiting for %d sends", n)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

type scriptedLoop struct {
	mu     sync.Mutex
	inputs []string
}

func (l *scriptedLoop) HandleInput(_ context.Context, text string) SessionResult {
	l.mu.Lock()
	l.inputs = append(l.inputs, text)
	n := len(l.inputs)
	l.mu.Unlock()
	return SessionResult{AssistantOutput: fmt.Sprintf("reply %d to %s", n, text)}
}

func testChannel(t *testing.T, loop SessionLoop) (*Channel, *fakeClient, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := New(Config{Token: "test-token"}, func(context.Context, string, func(string)) (SessionLoop, error) {
		return loop, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	client := newFakeClient()
	ch.client = client
	return ch, client, ctx
}

func update(chatID int64, text string) *tgmodels.Update {
	return &tgmodels.Update{Message: &tgmodels.Message{
		Text: text,
		Chat: tgmodels.Chat{ID: chatID},
	}}
}

func TestOrderedDeliveryPerChat(t *testing.T) {
	loop := &scriptedLoop{}
	ch, client, ctx := testChannel(t, loop)

	ch.handleUpdate(ctx, nil, update(7, "first"))
	ch.handleUpdate(ctx, nil, update(7, "second"))
	ch.handleUpdate(ctx, nil, update(7, "third"))

	sent := client.waitFor(t, 3)
	want := []string{"reply 1 to first", "reply 2 to second", "reply 3 to third"}
	for i, w := range want {
		if sent[i] != w {
			t.Errorf("sent[%d] = %q, want %q", i, sent[i], w)
		}
	}
}

func TestSessionPerChat(t *testing.T) {
	var mu sync.Mutex
	var sessionIDs []string
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := New(Config{Token: "test-token"}, func(_ context.Context, sessionID string, _ func(string)) (SessionLoop, error) {
		mu.Lock()
		sessionIDs = append(sessionIDs, sessionID)
		mu.Unlock()
		return &scriptedLoop{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	client := newFakeClient()
	ch.client = client

	ch.handleUpdate(ctx, nil, update(1, "hello"))
	ch.handleUpdate(ctx, nil, update(2, "hello"))
	ch.handleUpdate(ctx, nil, update(1, "again"))
	client.waitFor(t, 3)

	mu.Lock()
	defer mu.Unlock()
	if len(sessionIDs) != 2 {
		t.Fatalf("opened %d sessions, want 2: %v", len(sessionIDs), sessionIDs)
	}
	if sessionIDs[0] != "telegram:1" || sessionIDs[1] != "telegram:2" {
		t.Errorf("session ids = %v", sessionIDs)
	}
}

func TestNotifierDeliversToChat(t *testing.T) {
	var notify func(string)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := New(Config{Token: "test-token"}, func(_ context.Context, _ string, n func(string)) (SessionLoop, error) {
		notify = n
		return &scriptedLoop{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	client := newFakeClient()
	ch.client = client

	if _, err := ch.sessionFor(ctx, 42); err != nil {
		t.Fatal(err)
	}
	notify("Reminder: stand up")

	sent := client.waitFor(t, 1)
	if sent[0] != "Reminder: stand up" {
		t.Errorf("sent = %q", sent[0])
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if client.chats[0] != int64(42) {
		t.Errorf("chat id = %v, want 42", client.chats[0])
	}
}

func TestMissingTokenRejected(t *testing.T) {
	_, err := New(Config{}, func(context.Context, string, func(string)) (SessionLoop, error) {
		return &scriptedLoop{}, nil
	})
	if err == nil {
		t.Fatal("expected config error")
	}
}

func TestChunkMessage(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		limit int
		want  int
	}{
		{"short", "hello", 10, 1},
		{"exact", strings.Repeat("a", 10), 10, 1},
		{"split", strings.Repeat("a", 25), 10, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := chunkMessage(tt.text, tt.limit)
			if len(chunks) != tt.want {
				t.Fatalf("got %d chunks, want %d", len(chunks), tt.want)
			}
			for _, chunk := range chunks {
				if len(chunk) > tt.limit {
					t.Errorf("chunk length %d exceeds limit", len(chunk))
				}
			}
			if strings.Join(chunks, "") != tt.text {
				t.Error("chunks do not reassemble the input")
			}
		})
	}
}

func TestChunkMessageKeepsRunesIntact(t *testing.T) {
	// Two-byte runes with no newlines; a byte-offset cut would land mid-rune.
	text := strings.Repeat("é", 6)
	chunks := chunkMessage(text, 5)
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks: %q", len(chunks), chunks)
	}
	for i, chunk := range chunks {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d split a rune: %q", i, chunk)
		}
		if len(chunk) > 5 {
			t.Errorf("chunk %d length %d exceeds limit", i, len(chunk))
		}
	}
	if strings.Join(chunks, "") != text {
		t.Error("chunks do not reassemble the input")
	}
}

func TestChunkMessagePrefersNewlines(t *testing.T) {
	text := strings.Repeat("x", 6) + "\n" + strings.Repeat("y", 6)
	chunks := chunkMessage(text, 10)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks: %q", len(chunks), chunks)
	}
	if chunks[0] != strings.Repeat("x", 6) {
		t.Errorf("first chunk = %q, want the text before the newline", chunks[0])
	}
}
