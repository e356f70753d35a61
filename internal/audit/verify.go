package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyResult is the outcome of checking a log's hash chain.
type VerifyResult struct {
	Valid     bool           `json:"valid"`
	Lines     int            `json:"lines"`
	Actions   map[string]int `json:"actions,omitempty"`
	Routed    int            `json:"routed"`
	Error     string         `json:"error,omitempty"`
	ErrorLine int            `json:"error_line,omitempty"`
}

// Verify walks the log and reports the first broken link, if any, along
// with per-action counts of the entries it read.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	res := VerifyResult{Actions: make(map[string]int)}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	expected := GenesisHash

	for scanner.Scan() {
		res.Lines++
		line := scanner.Bytes()

		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			res.Error = fmt.Sprintf("parse error: %v", err)
			res.ErrorLine = res.Lines
			return res
		}
		if e.PrevHash != expected {
			if res.Lines == 1 {
				res.Error = fmt.Sprintf("first entry prev_hash is %q, expected genesis hash", e.PrevHash)
			} else {
				res.Error = fmt.Sprintf("hash mismatch: expected %s, got %s", expected, e.PrevHash)
			}
			res.ErrorLine = res.Lines
			return res
		}

		res.Actions[e.Action]++
		if e.RouteToHuman {
			res.Routed++
		}
		expected = HashLine(line)
	}

	if err := scanner.Err(); err != nil {
		res.Error = fmt.Sprintf("scan: %v", err)
		return res
	}
	res.Valid = true
	return res
}
