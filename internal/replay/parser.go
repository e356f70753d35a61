package replay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ParseFile reads a JSONL conversation file. Malformed lines and turns
// without text are skipped and counted in bad. Turns without a session id
// belong to a session named after the file.
//
// Conversations keep the order sessions first appear in; turns within a
// session keep file order, re-sorted by timestamp only when every turn
// has one.
func ParseFile(path string) (convs []Conversation, bad int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	defaultSession := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	index := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var t Turn
		if err := json.Unmarshal([]byte(raw), &t); err != nil || t.Text == "" {
			bad++
			continue
		}
		if t.SessionID == "" {
			t.SessionID = defaultSession
		}

		i, ok := index[t.SessionID]
		if !ok {
			i = len(convs)
			index[t.SessionID] = i
			convs = append(convs, Conversation{SessionID: t.SessionID})
		}
		convs[i].Turns = append(convs[i].Turns, t)
	}
	if err := scanner.Err(); err != nil {
		return nil, bad, fmt.Errorf("scan: %w", err)
	}

	for i := range convs {
		sortByTime(convs[i].Turns)
	}
	return convs, bad, nil
}

func sortByTime(turns []Turn) {
	for _, t := range turns {
		if t.Timestamp.IsZero() {
			return
		}
	}
	sort.SliceStable(turns, func(i, j int) bool {
		return turns[i].Timestamp.Before(turns[j].Timestamp)
	})
}
