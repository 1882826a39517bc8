// Package telegram runs conversation sessions over Telegram long polling.
//
// Each chat gets its own session loop keyed "telegram:<chat_id>" and its own
// mailbox goroutine, so replies and scheduled deliveries for one chat stay in
// order while chats proceed independently.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// maxMessageLength is Telegram's per-message text limit.
const maxMessageLength = 4096

// mailboxDepth bounds per-chat outbound queues.
const mailboxDepth = 64

// SessionLoop is the per-chat conversation handle the channel drives.
// The agent loop satisfies it.
type SessionLoop interface {
	HandleInput(ctx context.Context, text string) SessionResult
}

// SessionResult mirrors the loop outcome the channel cares about.
type SessionResult struct {
	ImmediateOutput string
	AssistantOutput string
	Err             error
}

// OpenSession builds a session loop for a chat. The notify callback
// delivers scheduler output to that chat and must be registered with
// the session's scheduler wiring.
type OpenSession func(ctx context.Context, sessionID string, notify func(string)) (SessionLoop, error)

// BotClient is the slice of the Telegram API the channel uses,
// split out so tests can inject a fake.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
	Start(ctx context.Context)
}

// Config holds channel settings.
type Config struct {
	// Token is the bot token from @BotFather.
	Token  string
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Token == "" {
		return errors.New("telegram: bot token is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Channel is the long-polling Telegram front end.
type Channel struct {
	config Config
	open   OpenSession
	client BotClient
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[int64]*chatSession
	wg       sync.WaitGroup
}

// New creates a channel. Sessions are opened lazily on first message
// from a chat.
func New(config Config, open OpenSession) (*Channel, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Channel{
		config:   config,
		open:     open,
		logger:   config.Logger.With("component", "telegram"),
		sessions: map[int64]*chatSession{},
	}, nil
}

// Run connects and blocks long polling until ctx is cancelled.
func (c *Channel) Run(ctx context.Context) error {
	if c.client == nil {
		b, err := bot.New(c.config.Token, bot.WithDefaultHandler(c.handleUpdate))
		if err != nil {
			return fmt.Errorf("telegram: create bot: %w", err)
		}
		c.client = b
	}

	c.logger.Info("telegram channel started")
	c.client.Start(ctx)
	c.logger.Info("telegram channel stopped")

	c.wg.Wait()
	return nil
}

func (c *Channel) handleUpdate(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID

	session, err := c.sessionFor(ctx, chatID)
	if err != nil {
		c.logger.Error("open session failed", "chat_id", chatID, "error", err)
		return
	}

	select {
	case session.inbox <- update.Message.Text:
	case <-ctx.Done():
	default:
		c.logger.Warn("chat inbox full, dropping message", "chat_id", chatID)
	}
}

func (c *Channel) sessionFor(ctx context.Context, chatID int64) (*chatSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if session, ok := c.sessions[chatID]; ok {
		return session, nil
	}

	session := &chatSession{
		chatID: chatID,
		inbox:  make(chan string, mailboxDepth),
		outbox: make(chan string, mailboxDepth),
		logger: c.logger.With("chat_id", chatID),
	}

	sessionID := "telegram:" + strconv.FormatInt(chatID, 10)
	loop, err := c.open(ctx, sessionID, session.enqueue)
	if err != nil {
		return nil, err
	}
	session.loop = loop

	c.sessions[chatID] = session
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		session.process(ctx)
	}()
	go func() {
		defer c.wg.Done()
		session.deliver(ctx, c.client)
	}()
	return session, nil
}

// chatSession serializes one chat's work: process drains the inbox
// through the loop, deliver drains the outbox to the API.
type chatSession struct {
	chatID int64
	loop   SessionLoop
	inbox  chan string
	outbox chan string
	logger *slog.Logger
}

func (s *chatSession) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.inbox:
			res := s.loop.HandleInput(ctx, text)
			if res.Err != nil {
				s.logger.Error("turn failed", "error", res.Err)
				s.enqueue(fmt.Sprintf("Error: %v", res.Err))
				continue
			}
			if res.ImmediateOutput != "" {
				s.enqueue(res.ImmediateOutput)
			}
			if res.AssistantOutput != "" {
				s.enqueue(res.AssistantOutput)
			}
		}
	}
}

// enqueue queues text for delivery; it doubles as the scheduler
// notifier for this chat.
func (s *chatSession) enqueue(text string) {
	if text == "" {
		return
	}
	select {
	case s.outbox <- text:
	default:
		s.logger.Warn("chat outbox full, dropping message")
	}
}

func (s *chatSession) deliver(ctx context.Context, client BotClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-s.outbox:
			for _, chunk := range chunkMessage(text, maxMessageLength) {
				_, err := client.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: s.chatID,
					Text:   chunk,
				})
				if err != nil {
					s.logger.Error("send failed", "error", err)
				}
			}
		}
	}
}

// chunkMessage splits text at the limit, preferring newline boundaries
// and never cutting inside a multi-byte rune.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var chunks []string
	for len(text) > limit {
		cut := limit
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		for i := cut - 1; i > limit/2; i-- {
			if text[i] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
		if len(text) > 0 && text[0] == '\n' {
			text = text[1:]
		}
	}
	if len(text) > 0 {
		chunks = append(chunks, text)
	}
	return chunks
}
