// Package session implements the durable, append-only session log: a
// branching journal of typed entries persisted as one newline-delimited JSON
// file per session. The log is a tree keyed by parent id; the active branch
// is the chain from a root to the current leaf. Appends are synchronous and
// fsynced; entries are never mutated in place.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banyanlabs/banyan/types"
)

// Session is an open session log. All mutating operations are serialized by
// an internal mutex, but the intended discipline is a single writer: the
// agent loop owns appends.
type Session struct {
	mu     sync.RWMutex
	header Header
	path   string // empty for in-memory sessions
	file   *os.File
	closed bool

	entries  map[string]*Entry
	order    []*Entry            // insertion order, parents strictly before children
	children map[string][]string // id -> child ids in insertion order
	roots    []string
	leafID   string
	labels   map[string]string // target id -> label
	name     string
}

// Create creates a new persisted session under dir, writing the header
// record immediately.
func Create(cwd, dir string) (*Session, error) {
	return createWithParent(cwd, dir, "")
}

func createWithParent(cwd, dir, parentPath string) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	header := Header{
		Type:              "header",
		Version:           FormatVersion,
		SessionID:         uuid.New().String(),
		Cwd:               cwd,
		CreatedAt:         time.Now(),
		ParentSessionPath: parentPath,
	}

	path := filepath.Join(dir, header.SessionID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create session file: %w", err)
	}
	if err := writeRecord(f, header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	s := newSession(header)
	s.path = path
	s.file = f
	return s, nil
}

// InMemory creates a session that follows the same invariants as a persisted
// one but never touches the filesystem.
func InMemory(cwd string) *Session {
	return newSession(Header{
		Type:      "header",
		Version:   FormatVersion,
		SessionID: uuid.New().String(),
		Cwd:       cwd,
		CreatedAt: time.Now(),
	})
}

func newSession(header Header) *Session {
	return &Session{
		header:   header,
		entries:  make(map[string]*Entry),
		children: make(map[string][]string),
		labels:   make(map[string]string),
	}
}

// Open replays a session file and rebuilds the in-memory indices. A torn
// trailing record is truncated away and the leaf falls back to the last
// intact entry. A malformed record elsewhere aborts with ErrCorruptSession
// context; prior state is not discarded from disk.
func Open(path string) (*Session, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open session file: %w", err)
	}
	res, err := replayFile(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	if res.truncateAt >= 0 {
		if err := os.Truncate(path, res.truncateAt); err != nil {
			return nil, fmt.Errorf("truncate torn session record: %w", err)
		}
	}

	s := newSession(res.header)
	s.path = path
	for _, e := range res.entries {
		s.index(e)
	}

	w, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open session file for append: %w", err)
	}
	s.file = w
	return s, nil
}

// index wires an already-validated entry into the in-memory structures and
// advances the leaf.
func (s *Session) index(e *Entry) {
	s.entries[e.ID] = e
	s.order = append(s.order, e)
	if e.ParentID == nil {
		s.roots = append(s.roots, e.ID)
	} else {
		s.children[*e.ParentID] = append(s.children[*e.ParentID], e.ID)
	}
	s.leafID = e.ID

	switch e.Type {
	case EntryTypeLabel:
		if e.Label != nil {
			if e.Label.Label == "" {
				delete(s.labels, e.Label.TargetID)
			} else {
				s.labels[e.Label.TargetID] = e.Label.Label
			}
		}
	case EntryTypeSessionInfo:
		if e.SessionInfo != nil {
			s.name = e.SessionInfo.Name
		}
	}
}

// ID returns the session id from the header.
func (s *Session) ID() string { return s.header.SessionID }

// Path returns the backing file path, or "" for in-memory sessions.
func (s *Session) Path() string { return s.path }

// Cwd returns the working directory recorded at creation.
func (s *Session) Cwd() string { return s.header.Cwd }

// CreatedAt returns the creation timestamp from the header.
func (s *Session) CreatedAt() time.Time { return s.header.CreatedAt }

// ParentSessionPath returns the parent session path for forked sessions.
func (s *Session) ParentSessionPath() string { return s.header.ParentSessionPath }

// Name returns the current display name (last session_info entry wins).
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// LeafID returns the current branch tip, or "" for an empty session.
func (s *Session) LeafID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leafID
}

// Append assigns an id and timestamp, links the entry to the current leaf,
// persists it, and advances the leaf. I/O errors are reported, never
// swallowed; on error the in-memory state is unchanged.
func (s *Session) Append(e Entry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrClosed
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if _, exists := s.entries[e.ID]; exists {
		return "", fmt.Errorf("duplicate entry id %s", e.ID)
	}
	if e.ParentID == nil && s.leafID != "" {
		pid := s.leafID
		e.ParentID = &pid
	}
	if e.ParentID != nil {
		if _, ok := s.entries[*e.ParentID]; !ok {
			return "", fmt.Errorf("%w: parent %s", ErrEntryNotFound, *e.ParentID)
		}
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	if s.file != nil {
		if err := writeRecord(s.file, &e); err != nil {
			return "", err
		}
	}
	s.index(&e)
	return e.ID, nil
}

// AppendMessage appends a message entry.
func (s *Session) AppendMessage(msg *types.Message) (string, error) {
	return s.Append(Entry{Type: EntryTypeMessage, Message: msg})
}

// AppendCompaction appends a compaction boundary entry.
func (s *Session) AppendCompaction(summary, firstKeptEntryID string, tokensBefore int) (string, error) {
	return s.Append(Entry{Type: EntryTypeCompaction, Compaction: &Compaction{
		Summary:          summary,
		FirstKeptEntryID: firstKeptEntryID,
		TokensBefore:     tokensBefore,
	}})
}

// AppendModelChange appends a model change entry.
func (s *Session) AppendModelChange(provider, modelID string) (string, error) {
	return s.Append(Entry{Type: EntryTypeModelChange, ModelChange: &ModelChange{
		Provider: provider,
		ModelID:  modelID,
	}})
}

// AppendThinkingLevel appends a thinking level change entry.
func (s *Session) AppendThinkingLevel(level string) (string, error) {
	return s.Append(Entry{Type: EntryTypeThinkingLevelChange, ThinkingLevel: &ThinkingLevel{Level: level}})
}

// AppendContextTransform appends a persisted context transform patch.
func (s *Session) AppendContextTransform(t *ContextTransform) (string, error) {
	return s.Append(Entry{Type: EntryTypeContextTransform, ContextTransform: t})
}

// Rename appends a session_info entry carrying the new display name.
func (s *Session) Rename(name string) (string, error) {
	return s.Append(Entry{Type: EntryTypeSessionInfo, SessionInfo: &SessionInfo{Name: name}})
}

// SetLabel appends a label entry for targetID. An empty label clears it.
func (s *Session) SetLabel(targetID, label string) (string, error) {
	s.mu.RLock()
	_, ok := s.entries[targetID]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrEntryNotFound, targetID)
	}
	return s.Append(Entry{Type: EntryTypeLabel, Label: &Label{TargetID: targetID, Label: label}})
}

// Entry returns the entry with the given id.
func (s *Session) Entry(id string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// Len returns the number of entries in the log (all branches).
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Branch returns the ordered chain from root to the current leaf, metadata
// entries included.
func (s *Session) Branch() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainTo(s.leafID)
}

// BranchTo returns the ordered chain from root to the given entry.
func (s *Session) BranchTo(entryID string) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.entries[entryID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return s.chainTo(entryID), nil
}

func (s *Session) chainTo(id string) []*Entry {
	var rev []*Entry
	for id != "" {
		e, ok := s.entries[id]
		if !ok {
			break
		}
		rev = append(rev, e)
		if e.ParentID == nil {
			break
		}
		id = *e.ParentID
	}
	out := make([]*Entry, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out
}

// SetLeaf navigates to a different tip; subsequent appends branch off that
// entry. An empty id parks the leaf before the first entry, so the next
// append starts a new root.
func (s *Session) SetLeaf(entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID != "" {
		if _, ok := s.entries[entryID]; !ok {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
		}
	}
	s.leafID = entryID
	return nil
}

// Tree returns the whole DAG rooted at the session's roots. Labels are
// resolved onto their target nodes; label entries themselves still appear as
// nodes in the structural tree since they are part of the branch chain.
func (s *Session) Tree() []*Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var build func(id string) *Node
	build = func(id string) *Node {
		e := s.entries[id]
		n := &Node{Entry: e, Label: s.labels[id]}
		for _, childID := range s.children[id] {
			n.Children = append(n.Children, build(childID))
		}
		return n
	}

	var nodes []*Node
	for _, rootID := range s.roots {
		nodes = append(nodes, build(rootID))
	}
	return nodes
}

// LabelOf returns the resolved label for an entry, if any.
func (s *Session) LabelOf(entryID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.labels[entryID]
	return l, ok
}

// ForkFrom creates a new persisted session under dir whose header records
// this session's path as parent and whose entries replay the chain from the
// root through entryID. Entry ids and timestamps are preserved.
func (s *Session) ForkFrom(entryID, dir string) (*Session, error) {
	if s.path == "" {
		return nil, ErrNotPersisted
	}
	chain, err := s.BranchTo(entryID)
	if err != nil {
		return nil, err
	}

	child, err := createWithParent(s.header.Cwd, dir, s.path)
	if err != nil {
		return nil, err
	}
	for _, e := range chain {
		cp := *e
		if _, err := child.Append(cp); err != nil {
			child.Close()
			os.Remove(child.Path())
			return nil, fmt.Errorf("replay fork prefix: %w", err)
		}
	}
	return child, nil
}

// Close releases the file handle. Further appends fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
