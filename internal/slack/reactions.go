package slack

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ReviewVerdict is a moderator's judgement of a routed decision.
type ReviewVerdict string

const (
	VerdictConfirmed  ReviewVerdict = "confirmed"
	VerdictOverturned ReviewVerdict = "overturned"
	VerdictSkipped    ReviewVerdict = "skipped"
	VerdictUnknown    ReviewVerdict = "unknown"
)

// ErrNoMessage is returned for reactions that do not name the message they
// were added to.
var ErrNoMessage = errors.New("reaction has no message_ts")

// Reaction is an emoji added to a review message, as forwarded over the
// bus. Emoji is the bare name without surrounding colons.
type Reaction struct {
	Emoji     string `json:"reaction"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	MessageTS string `json:"message_ts"`
}

// DecodeReaction accepts either a flat reaction object or the forwarder's
// {"metadata": {...}} envelope.
func DecodeReaction(data []byte) (Reaction, error) {
	var env struct {
		Reaction
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return Reaction{}, fmt.Errorf("decode reaction: %w", err)
	}

	r := env.Reaction
	if m := env.Metadata; m != nil {
		r = Reaction{
			Emoji:     m["text"],
			UserID:    m["user_id"],
			Channel:   m["channel_id"],
			MessageTS: m["message_ts"],
		}
	}
	r.Emoji = strings.Trim(r.Emoji, ":")
	if r.MessageTS == "" {
		return r, ErrNoMessage
	}
	return r, nil
}

func (r Reaction) Verdict() ReviewVerdict { return VerdictFor(r.Emoji) }

// VerdictFor maps an emoji name to a verdict. Skin-tone modifiers such as
// "+1::skin-tone-3" are ignored.
func VerdictFor(emoji string) ReviewVerdict {
	name, _, _ := strings.Cut(emoji, "::")
	switch name {
	case "+1", "thumbsup", "white_check_mark", "heavy_check_mark":
		return VerdictConfirmed
	case "-1", "thumbsdown", "x", "no_entry":
		return VerdictOverturned
	case "shrug", "fast_forward":
		return VerdictSkipped
	default:
		return VerdictUnknown
	}
}
