package preprocess

import (
	"strings"
	"testing"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		wantLang string
		wantConf float64
	}{
		{"english", "Hello, how are you doing today? I hope everything is fine with you.", "en", 1.0},
		{"hindi", "आप कैसे हैं? मैं ठीक हूँ, आपका बहुत धन्यवाद।", "hi", 1.0},
		{"too short", "hi!", "en", 0.0},
		{"blank", "     ", "en", 0.0},
		{"french", "Bonjour, comment allez-vous aujourd'hui ? Je suis très content de vous voir.", "en", 0.5},
		{"spanish", "Hola, ¿cómo estás? Me gustaría saber dónde está la biblioteca de la ciudad.", "en", 0.5},
		{"german", "Guten Morgen, wie geht es dir heute? Ich freue mich sehr, dich zu sehen.", "en", 0.5},
		{"unsupported script", "Привет, как дела? Что ты делаешь сегодня вечером?", "en", 0.5},
		{"digits only", "1234567", "en", 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lang, conf := DetectLanguage(tt.text)
			if lang != tt.wantLang || conf != tt.wantConf {
				t.Errorf("DetectLanguage(%q) = (%s, %v), want (%s, %v)", tt.text, lang, conf, tt.wantLang, tt.wantConf)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	clean := Normalize("Hello!!! Visit https://example.com NOW.", DefaultOptions())
	for _, want := range []string{"hello", "visit", "now"} {
		if !strings.Contains(clean, want) {
			t.Errorf("Normalize() = %q, missing %q", clean, want)
		}
	}
	if strings.Contains(clean, "example") {
		t.Errorf("Normalize() = %q, URL not removed", clean)
	}
	if strings.Contains(clean, "!") {
		t.Errorf("Normalize() = %q, punctuation not removed", clean)
	}
	if clean != "hello visit now" {
		t.Errorf("Normalize() = %q, want %q", clean, "hello visit now")
	}
}

func TestNormalize_Toggles(t *testing.T) {
	opts := Options{}
	in := "Hello,   World ﬁ"
	if got := Normalize(in, opts); got != in {
		t.Errorf("all steps off: Normalize() = %q, want input unchanged", got)
	}

	opts.UnicodeNFKC = true
	if got := Normalize(in, opts); !strings.HasSuffix(got, "fi") {
		t.Errorf("NFKC: Normalize() = %q, want ligature folded", got)
	}
}

func TestNormalize_KeepsDevanagari(t *testing.T) {
	got := Normalize("आप कैसे हैं?", DefaultOptions())
	if got != "आप कैसे हैं" {
		t.Errorf("Normalize() = %q", got)
	}
}

func TestMaskPII(t *testing.T) {
	opts := DefaultOptions()

	masked := MaskPII("Contact me at jagadish@example.com", opts)
	if !strings.Contains(masked, "<EMAIL>") || strings.Contains(masked, "@") {
		t.Errorf("email: MaskPII() = %q", masked)
	}

	masked = MaskPII("Call me at +91-9876543210", opts)
	if !strings.Contains(masked, "<PHONE>") || strings.Contains(masked, "9876") {
		t.Errorf("phone: MaskPII() = %q", masked)
	}

	opts.MaskEmail = false
	if got := MaskPII("a@b.io", opts); got != "a@b.io" {
		t.Errorf("masking off: MaskPII() = %q", got)
	}
}

func TestProcess(t *testing.T) {
	res := Process("Please mail ME at bob@example.com, I will answer you tomorrow!!", DefaultOptions())
	if want := "please mail me at email i will answer you tomorrow"; res.Text != want {
		t.Errorf("Text = %q, want %q", res.Text, want)
	}
	if res.Lang != "en" || res.LangConfidence != 1.0 {
		t.Errorf("lang = (%s, %v)", res.Lang, res.LangConfidence)
	}

	opts := DefaultOptions()
	opts.DetectLanguage = false
	res = Process("आप कैसे हैं?", opts)
	if res.Lang != "en" || res.LangConfidence != 1.0 {
		t.Errorf("detection off: lang = (%s, %v), want (en, 1)", res.Lang, res.LangConfidence)
	}
}
