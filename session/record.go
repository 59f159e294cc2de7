package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"
)

// FormatVersion is the session file format version written into headers.
const FormatVersion = 1

// Header is the first record of every session file.
type Header struct {
	Type              string    `json:"type"` // always "header"
	Version           int       `json:"version"`
	SessionID         string    `json:"sessionId"`
	Cwd               string    `json:"cwd"`
	CreatedAt         time.Time `json:"createdAt"`
	ParentSessionPath string    `json:"parentSessionPath,omitempty"`
}

// recordType peeks at the type tag without committing to a payload shape, so
// unknown record types can be skipped for forward compatibility.
type recordType struct {
	Type string `json:"type"`
}

// writeRecord serializes one record as a single LF-terminated JSON line and
// fsyncs the append. Append durability is the one I/O guarantee the log makes.
func writeRecord(f *os.File, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync session file: %w", err)
	}
	return nil
}

// replayResult is the outcome of reading a session file from the top.
type replayResult struct {
	header  Header
	entries []*Entry
	// truncateAt is non-negative when a torn trailing record was detected;
	// it is the byte offset at which the file should be truncated.
	truncateAt int64
}

// replayFile reads every record of a session file. The first line must be a
// header. Entries referencing an unseen parent id are an error (forward
// references are invalid by construction). A malformed record mid-file stops
// replay with an error that names the line; a malformed or unterminated final
// line is treated as a torn write and marked for truncation.
func replayFile(r io.Reader) (*replayResult, error) {
	res := &replayResult{truncateAt: -1}

	br := bufio.NewReaderSize(r, 256*1024)
	var offset int64
	line := 0
	seen := make(map[string]bool)
	headerRead := false

	for {
		data, err := br.ReadBytes('\n')
		eof := err == io.EOF
		if err != nil && !eof {
			return nil, fmt.Errorf("read session file: %w", err)
		}
		if len(data) == 0 && eof {
			break
		}
		line++

		complete := len(data) > 0 && data[len(data)-1] == '\n'
		trimmed := bytes.TrimSpace(data)

		if !headerRead {
			if len(trimmed) == 0 || !complete {
				return nil, fmt.Errorf("%w: missing header record", ErrCorruptSession)
			}
			var h Header
			if err := json.Unmarshal(trimmed, &h); err != nil || h.Type != "header" || h.SessionID == "" {
				return nil, fmt.Errorf("%w: first record is not a valid header", ErrCorruptSession)
			}
			res.header = h
			headerRead = true
			offset += int64(len(data))
			if eof {
				break
			}
			continue
		}

		if len(trimmed) == 0 {
			offset += int64(len(data))
			if eof {
				break
			}
			continue
		}

		if !complete {
			// Torn trailing record: drop it, keep everything before. The
			// leaf falls back to the last intact entry.
			res.truncateAt = offset
			return res, nil
		}

		entry, perr := parseEntry(trimmed, seen)
		if perr != nil {
			return res, fmt.Errorf("session record at line %d: %w", line, perr)
		}

		if entry != nil {
			seen[entry.ID] = true
			res.entries = append(res.entries, entry)
		}
		offset += int64(len(data))
		if eof {
			break
		}
	}

	if !headerRead {
		return nil, fmt.Errorf("%w: empty session file", ErrCorruptSession)
	}
	return res, nil
}

// parseEntry decodes one entry record. Unknown type tags return (nil, nil) so
// readers skip records written by future versions. Unknown payload fields are
// dropped by encoding/json as a matter of course.
func parseEntry(data []byte, seen map[string]bool) (*Entry, error) {
	var rt recordType
	if err := json.Unmarshal(data, &rt); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}

	switch EntryType(rt.Type) {
	case EntryTypeMessage, EntryTypeCompaction, EntryTypeModelChange,
		EntryTypeThinkingLevelChange, EntryTypeLabel, EntryTypeSessionInfo,
		EntryTypeContextTransform, EntryTypeCustom:
	default:
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("malformed %s record: %w", rt.Type, err)
	}
	if entry.ID == "" {
		return nil, fmt.Errorf("record has no id")
	}
	if seen[entry.ID] {
		return nil, fmt.Errorf("duplicate entry id %s", entry.ID)
	}
	if entry.ParentID != nil && !seen[*entry.ParentID] {
		return nil, fmt.Errorf("entry %s references unknown parent %s", entry.ID, *entry.ParentID)
	}
	return &entry, nil
}
