package translation

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrCountMismatch is returned when a backend answers a batch with a
	// different number of texts than it was sent.
	ErrCountMismatch = errors.New("translation: response count does not match request")

	// ErrRetriesExhausted wraps the last error after every attempt failed.
	ErrRetriesExhausted = errors.New("translation: max retries exceeded")

	// ErrSameLanguage is returned when source and target are equal.
	ErrSameLanguage = errors.New("translation: source and target languages are the same")
)

// Request is one batch of plain texts sharing a language pair.
type Request struct {
	Texts      []string
	SourceLang string
	TargetLang string
}

// Translator turns a batch of texts into the same number of translations,
// in the same order.
type Translator interface {
	Translate(ctx context.Context, req Request) ([]string, error)
	DetectLanguage(ctx context.Context, sample string) (string, error)
	Name() string
}

// Broadcaster receives progress and log events. The websocket hub
// implements it in server mode.
type Broadcaster interface {
	BroadcastMessage(msgType string, data interface{})
	BroadcastLog(level, message, module string)
}

// Identity returns every text unchanged.
type Identity struct {
	Language string
}

func (Identity) Translate(_ context.Context, req Request) ([]string, error) {
	out := make([]string, len(req.Texts))
	copy(out, req.Texts)
	return out, nil
}

func (i Identity) DetectLanguage(context.Context, string) (string, error) {
	if i.Language == "" {
		return "en", nil
	}
	return i.Language, nil
}

func (Identity) Name() string {
	return "identity"
}

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"it": "Italian",
	"pt": "Portuguese",
	"ru": "Russian",
	"ja": "Japanese",
	"ko": "Korean",
	"zh": "Chinese",
	"ar": "Arabic",
	"fa": "Persian",
	"he": "Hebrew",
	"hi": "Hindi",
	"tr": "Turkish",
	"pl": "Polish",
	"nl": "Dutch",
	"sv": "Swedish",
	"da": "Danish",
	"no": "Norwegian",
	"fi": "Finnish",
	"cs": "Czech",
	"sk": "Slovak",
	"hu": "Hungarian",
	"ro": "Romanian",
	"bg": "Bulgarian",
	"hr": "Croatian",
	"sl": "Slovenian",
	"et": "Estonian",
	"lv": "Latvian",
	"lt": "Lithuanian",
	"el": "Greek",
	"th": "Thai",
	"vi": "Vietnamese",
	"id": "Indonesian",
	"ms": "Malay",
	"tl": "Filipino",
	"uk": "Ukrainian",
	"be": "Belarusian",
	"ka": "Georgian",
	"hy": "Armenian",
	"az": "Azerbaijani",
	"kk": "Kazakh",
	"uz": "Uzbek",
	"ur": "Urdu",
	"bn": "Bengali",
	"ca": "Catalan",
}

// LanguageName maps an ISO 639-1 code to an English name, falling back to
// the code itself.
func LanguageName(code string) string {
	base := strings.ToLower(code)
	if i := strings.IndexAny(base, "-_"); i > 0 {
		base = base[:i]
	}
	if name, ok := languageNames[base]; ok {
		return name
	}
	return code
}

// NormalizeLanguage lowercases a code and strips any region suffix.
func NormalizeLanguage(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}
