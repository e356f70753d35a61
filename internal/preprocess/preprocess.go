// Package preprocess cleans chat text before it is scored: PII masking,
// unicode and whitespace normalization, and a coarse language guess.
package preprocess

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/unicode/norm"

	"github.com/MikeSquared-Agency/vigil/internal/config"
)

var (
	emailRE = regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b`)
	phoneRE = regexp.MustCompile(`\b(\+?\d{1,3}[-.\s]?)?(\(?\d{3,5}\)?[-.\s]?)?\d{3,5}[-.\s]?\d{3,5}\b`)
	urlRE   = regexp.MustCompile(`(?i)https?://\S+|www\.\S+`)
	punctRE = regexp.MustCompile(`[^\p{L}\p{N}\p{M}_\s\p{Z}]`)
	wsRE    = regexp.MustCompile(`[\s\p{Z}]+`)
)

type Options struct {
	DetectLanguage     bool
	Lower              bool
	StripURLs          bool
	StripPunctuation   bool
	CollapseWhitespace bool
	UnicodeNFKC        bool
	MaskEmail          bool
	MaskPhone          bool
	EmailToken         string
	PhoneToken         string
}

// DefaultOptions enables every step.
func DefaultOptions() Options {
	return Options{
		DetectLanguage:     true,
		Lower:              true,
		StripURLs:          true,
		StripPunctuation:   true,
		CollapseWhitespace: true,
		UnicodeNFKC:        true,
		MaskEmail:          true,
		MaskPhone:          true,
		EmailToken:         "<EMAIL>",
		PhoneToken:         "<PHONE>",
	}
}

// FromSettings maps the preprocessing section of the settings file.
func FromSettings(p config.Preprocessing) Options {
	return Options{
		DetectLanguage:     p.LanguageDetection.Enabled,
		Lower:              p.Normalization.Lower,
		StripURLs:          p.Normalization.StripURLs,
		StripPunctuation:   p.Normalization.StripPunctuation,
		CollapseWhitespace: p.Normalization.CollapseWhitespace,
		UnicodeNFKC:        p.Normalization.UnicodeNFKC,
		MaskEmail:          p.PIIMasking.MaskEmail,
		MaskPhone:          p.PIIMasking.MaskPhone,
		EmailToken:         p.PIIMasking.EmailToken,
		PhoneToken:         p.PIIMasking.PhoneToken,
	}
}

type Result struct {
	Text           string  `json:"preprocessed"`
	Lang           string  `json:"lang"`
	LangConfidence float64 `json:"lang_confidence"`
}

// Process masks PII, then normalizes. The language is detected on the raw
// text.
func Process(text string, opts Options) Result {
	lang, conf := "en", 1.0
	if opts.DetectLanguage {
		lang, conf = DetectLanguage(text)
	}
	return Result{
		Text:           Normalize(MaskPII(text, opts), opts),
		Lang:           lang,
		LangConfidence: conf,
	}
}

func MaskPII(text string, opts Options) string {
	s := text
	if opts.MaskEmail {
		s = emailRE.ReplaceAllLiteralString(s, opts.EmailToken)
	}
	if opts.MaskPhone {
		s = phoneRE.ReplaceAllLiteralString(s, opts.PhoneToken)
	}
	return s
}

func Normalize(text string, opts Options) string {
	s := text
	if opts.UnicodeNFKC {
		s = norm.NFKC.String(s)
	}
	if opts.StripURLs {
		s = urlRE.ReplaceAllLiteralString(s, " ")
	}
	if opts.Lower {
		s = strings.ToLower(s)
	}
	if opts.StripPunctuation {
		s = punctRE.ReplaceAllLiteralString(s, " ")
	}
	if opts.CollapseWhitespace {
		s = strings.TrimSpace(wsRE.ReplaceAllLiteralString(s, " "))
	}
	return s
}

// detectOptions limits the trigram detector to the scored languages plus
// the Latin-script languages most often confused with English, so French or
// Spanish text is not reported as English.
var detectOptions = whatlanggo.Options{
	Whitelist: map[whatlanggo.Lang]bool{
		whatlanggo.Eng: true,
		whatlanggo.Hin: true,
		whatlanggo.Fra: true,
		whatlanggo.Spa: true,
		whatlanggo.Deu: true,
		whatlanggo.Por: true,
		whatlanggo.Ita: true,
		whatlanggo.Nld: true,
	},
}

// DetectLanguage recognises English and Hindi. Text under five characters
// gets ("en", 0.0); any other language, or text with no detectable language,
// gets ("en", 0.5).
func DetectLanguage(text string) (string, float64) {
	t := strings.TrimSpace(text)
	if utf8.RuneCountInString(t) < 5 {
		return "en", 0.0
	}

	switch whatlanggo.DetectWithOptions(t, detectOptions).Lang {
	case whatlanggo.Eng:
		return "en", 1.0
	case whatlanggo.Hin:
		return "hi", 1.0
	default:
		return "en", 0.5
	}
}
