// Package tape implements the per-session append-only event log.
//
// A tape is a JSON Lines file: one entry per line with keys id, kind,
// payload, timestamp. Entries are kept in memory for the lifetime of the
// handle and appended to disk with O_APPEND semantics. Anchors partition the
// tape into epochs; context selection only considers entries after the last
// anchor.
package tape

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/crabclaw/crabclaw/pkg/models"
)

// Entry kinds.
const (
	KindMessage = "message"
	KindEvent   = "event"
	KindCommand = "command"
	KindRoute   = "route"
	KindAnchor  = "anchor"
)

// BootstrapAnchorName marks the start of a fresh session.
const BootstrapAnchorName = "session/start"

// Entry is one tape record. Payload is kept as raw JSON so reload round-trips
// byte-for-byte and search can scan the serialized form directly.
type Entry struct {
	ID        uint64          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
}

// Message decodes the payload of a "message" entry. The second return value
// is false for non-message entries and undecodable payloads.
func (e Entry) Message() (models.Message, bool) {
	if e.Kind != KindMessage {
		return models.Message{}, false
	}
	var msg models.Message
	if err := json.Unmarshal(e.Payload, &msg); err != nil {
		return models.Message{}, false
	}
	return msg, true
}

// AnchorPayload is the payload of an "anchor" entry.
type AnchorPayload struct {
	Name  string         `json:"name"`
	State map[string]any `json:"state"`
}

// Info summarizes a tape for the ,tape.info command.
type Info struct {
	Name                   string `json:"name"`
	Entries                int    `json:"entries"`
	Anchors                int    `json:"anchors"`
	LastAnchorName         string `json:"last_anchor_name,omitempty"`
	EntriesSinceLastAnchor int    `json:"entries_since_last_anchor"`
}

// Store owns one tape file. All methods are safe for concurrent use, though
// a tape is normally owned by exactly one agent loop.
type Store struct {
	mu      sync.Mutex
	dir     string
	name    string
	path    string
	entries []Entry
	nextID  uint64
	lastTS  time.Time
	logger  *slog.Logger
	now     func() time.Time
}

// Open loads dir/name.jsonl if it exists and returns a handle. The file is
// created lazily on first append. Lines that fail to parse are skipped so a
// partial trailing write never makes a session unreadable.
func Open(dir, name string) (*Store, error) {
	s := &Store{
		dir:    dir,
		name:   name,
		path:   filepath.Join(dir, name+".jsonl"),
		nextID: 1,
		logger: slog.Default().With("component", "tape", "tape", name),
		now:    time.Now,
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open tape %s: %w", s.path, err)
	}

	skipped := 0
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			skipped++
			continue
		}
		s.entries = append(s.entries, entry)
		if entry.ID >= s.nextID {
			s.nextID = entry.ID + 1
		}
		if ts, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil && ts.After(s.lastTS) {
			s.lastTS = ts
		}
	}
	if skipped > 0 {
		s.logger.Warn("skipped malformed tape lines", "count", skipped)
	}
	return s, nil
}

// Name returns the tape name (file name without extension).
func (s *Store) Name() string { return s.name }

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// AppendMessage appends a plain "message" entry.
func (s *Store) AppendMessage(role, content string) (Entry, error) {
	return s.AppendChat(models.Message{Role: role, Content: content})
}

// AppendChat appends a "message" entry carrying the full unified message,
// including tool calls or a tool_call_id when present.
func (s *Store) AppendChat(msg models.Message) (Entry, error) {
	return s.append(KindMessage, msg)
}

// AppendEvent appends an entry of the given kind ("event", "command",
// "route") with an arbitrary JSON payload.
func (s *Store) AppendEvent(kind string, payload any) (Entry, error) {
	return s.append(kind, payload)
}

// Anchor appends an "anchor" entry, starting a new context epoch.
func (s *Store) Anchor(name string, state map[string]any) (Entry, error) {
	return s.append(KindAnchor, AnchorPayload{Name: name, State: state})
}

// EnsureBootstrapAnchor appends the bootstrap anchor iff the tape has no
// anchor yet. Idempotent.
func (s *Store) EnsureBootstrapAnchor() error {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.Kind == KindAnchor {
			s.mu.Unlock()
			return nil
		}
	}
	s.mu.Unlock()
	_, err := s.Anchor(BootstrapAnchorName, map[string]any{"owner": "human"})
	return err
}

func (s *Store) append(kind string, payload any) (Entry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Entry{}, fmt.Errorf("encode tape payload: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UTC()
	if ts.Before(s.lastTS) {
		ts = s.lastTS
	}
	entry := Entry{
		ID:        s.nextID,
		Kind:      kind,
		Payload:   raw,
		Timestamp: ts.Format(time.RFC3339),
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, fmt.Errorf("encode tape entry: %w", err)
	}
	if err := s.writeLine(line); err != nil {
		return Entry{}, err
	}

	s.entries = append(s.entries, entry)
	s.nextID++
	s.lastTS = ts
	return entry, nil
}

func (s *Store) writeLine(line []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create tape directory: %w", err)
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open tape for append: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append tape entry: %w", err)
	}
	return nil
}

// Entries returns a snapshot of all entries in append order.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// EntriesSinceLastAnchor returns entries with id strictly greater than the
// greatest anchor id, or all entries when no anchor exists.
func (s *Store) EntriesSinceLastAnchor() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sinceLastAnchorLocked()
}

func (s *Store) sinceLastAnchorLocked() []Entry {
	var lastAnchor uint64
	for _, e := range s.entries {
		if e.Kind == KindAnchor && e.ID > lastAnchor {
			lastAnchor = e.ID
		}
	}
	var out []Entry
	for _, e := range s.entries {
		if e.ID > lastAnchor {
			out = append(out, e)
		}
	}
	return out
}

// AnchorEntries returns all anchor entries in order.
func (s *Store) AnchorEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Kind == KindAnchor {
			out = append(out, e)
		}
	}
	return out
}

// Info summarizes the tape.
func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{Name: s.name, Entries: len(s.entries)}
	for _, e := range s.entries {
		if e.Kind != KindAnchor {
			continue
		}
		info.Anchors++
		var payload AnchorPayload
		if err := json.Unmarshal(e.Payload, &payload); err == nil {
			info.LastAnchorName = payload.Name
		}
	}
	info.EntriesSinceLastAnchor = len(s.sinceLastAnchorLocked())
	return info
}

// Search returns entries whose serialized payload contains query as a
// case-sensitive substring, in append order.
func (s *Store) Search(query string) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if strings.Contains(string(e.Payload), query) {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears the tape and re-seeds it with a bootstrap anchor. When archive
// is true the existing file is renamed to <name>.jsonl.<UTC-compact>.bak and
// the archive path is returned; otherwise the file is deleted.
func (s *Store) Reset(archive bool) (string, error) {
	s.mu.Lock()

	archivePath := ""
	if _, err := os.Stat(s.path); err == nil {
		if archive {
			archivePath = fmt.Sprintf("%s.%s.bak", s.path, s.now().UTC().Format("20060102T150405Z"))
			if err := os.Rename(s.path, archivePath); err != nil {
				s.mu.Unlock()
				return "", fmt.Errorf("archive tape: %w", err)
			}
		} else if err := os.Remove(s.path); err != nil {
			s.mu.Unlock()
			return "", fmt.Errorf("remove tape: %w", err)
		}
	}

	s.entries = nil
	s.nextID = 1
	s.lastTS = time.Time{}
	s.mu.Unlock()

	if _, err := s.Anchor(BootstrapAnchorName, map[string]any{"owner": "human"}); err != nil {
		return "", err
	}
	return archivePath, nil
}
