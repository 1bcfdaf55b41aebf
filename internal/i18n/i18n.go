// Package i18n resolves the display language and translates entity states
// and relative-time phrases.
package i18n

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

//go:embed locales/*.json
var locales embed.FS

// DefaultLanguage is used when no configured language is supported.
const DefaultLanguage = "en"

var supported = []language.Tag{language.English, language.German}

var matcher = language.NewMatcher(supported)

// Translator looks up messages for one language, falling back to English.
type Translator struct {
	code     string
	messages map[string]string
	fallback map[string]string
}

// ResolveLanguage returns the first non-empty candidate, matched against the
// supported languages, as a two-letter code.
func ResolveLanguage(candidates ...string) string {
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		// LANG style values such as de_DE.UTF-8
		c, _, _ = strings.Cut(c, ".")
		c = strings.ReplaceAll(c, "_", "-")
		tag, err := language.Parse(c)
		if err != nil {
			continue
		}
		_, idx, _ := matcher.Match(tag)
		base, _ := supported[idx].Base()
		return base.String()
	}
	return DefaultLanguage
}

// New loads the translations for lang. Unsupported languages get English.
func New(lang string) (*Translator, error) {
	code := ResolveLanguage(lang)
	fallback, err := load(DefaultLanguage)
	if err != nil {
		return nil, err
	}
	msgs := fallback
	if code != DefaultLanguage {
		if msgs, err = load(code); err != nil {
			return nil, err
		}
	}
	return &Translator{code: code, messages: msgs, fallback: fallback}, nil
}

func load(code string) (map[string]string, error) {
	b, err := locales.ReadFile("locales/" + code + ".json")
	if err != nil {
		return nil, fmt.Errorf("reading %s translations: %w", code, err)
	}
	var msgs map[string]string
	if err := json.Unmarshal(b, &msgs); err != nil {
		return nil, fmt.Errorf("parsing %s translations: %w", code, err)
	}
	return msgs, nil
}

// Code returns the two-letter language code.
func (t *Translator) Code() string {
	return t.code
}

// T returns the message for key formatted with args, or key itself.
func (t *Translator) T(key string, args ...any) string {
	msg, ok := t.lookup(key)
	if !ok {
		return key
	}
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}

// State translates a raw entity state. The most specific translation wins:
// domain plus device class, then domain, then the generic state table. Raw
// states without a translation are returned unchanged.
func (t *Translator) State(domain, raw, deviceClass string) string {
	keys := make([]string, 0, 3)
	if deviceClass != "" {
		keys = append(keys, "state."+domain+"."+deviceClass+"."+raw)
	}
	keys = append(keys, "state."+domain+"."+raw, "state.default."+raw)
	for _, k := range keys {
		if msg, ok := t.lookup(k); ok {
			return msg
		}
	}
	return raw
}

func (t *Translator) lookup(key string) (string, bool) {
	if msg, ok := t.messages[key]; ok {
		return msg, true
	}
	msg, ok := t.fallback[key]
	return msg, ok
}
