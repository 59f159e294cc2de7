package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/banyanlabs/banyan/types"
)

// Summary describes one persisted session for listings and pickers.
type Summary struct {
	SessionID        string    `json:"sessionId"`
	Path             string    `json:"path"`
	Cwd              string    `json:"cwd"`
	Name             string    `json:"name,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ModifiedAt       time.Time `json:"modifiedAt"`
	MessageCount     int       `json:"messageCount"`
	FirstUserMessage string    `json:"firstUserMessage,omitempty"`

	// SearchText is the concatenated text of user and assistant messages,
	// populated only when requested.
	SearchText string `json:"searchText,omitempty"`
}

// ListOptions controls session enumeration.
type ListOptions struct {
	// Cwd filters sessions to those created in the given working directory.
	// Empty means all.
	Cwd string

	// IncludeSearchText populates Summary.SearchText.
	IncludeSearchText bool
}

// List enumerates persisted sessions under dir, newest modified first.
// Unreadable files are skipped; a listing never fails because one session is
// corrupt.
func List(dir string, opts ListOptions) ([]*Summary, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var out []*Summary
	for _, path := range paths {
		sum, err := Summarize(path, opts.IncludeSearchText)
		if err != nil {
			continue
		}
		if opts.Cwd != "" && sum.Cwd != opts.Cwd {
			continue
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ModifiedAt.After(out[j].ModifiedAt)
	})
	return out, nil
}

// Summarize reads one session file and produces its listing summary.
func Summarize(path string, includeSearchText bool) (*Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	res, err := replayFile(f)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	sum := &Summary{
		SessionID:  res.header.SessionID,
		Path:       path,
		Cwd:        res.header.Cwd,
		CreatedAt:  res.header.CreatedAt,
		ModifiedAt: info.ModTime(),
	}

	var search strings.Builder
	for _, e := range res.entries {
		switch e.Type {
		case EntryTypeMessage:
			if e.Message == nil {
				continue
			}
			sum.MessageCount++
			switch e.Message.Role {
			case types.RoleUser:
				if sum.FirstUserMessage == "" {
					sum.FirstUserMessage = preview(e.Message.Text(), 120)
				}
				if includeSearchText {
					search.WriteString(e.Message.Text())
					search.WriteByte('\n')
				}
			case types.RoleAssistant:
				if includeSearchText {
					search.WriteString(e.Message.Text())
					search.WriteByte('\n')
				}
			}
		case EntryTypeSessionInfo:
			if e.SessionInfo != nil {
				sum.Name = e.SessionInfo.Name
			}
		}
	}
	if includeSearchText {
		sum.SearchText = search.String()
	}
	return sum, nil
}

// Delete removes a persisted session file.
func Delete(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func preview(s string, max int) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > max {
		s = s[:max] + "…"
	}
	return s
}
