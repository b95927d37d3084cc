package translation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

func systemPrompt(sourceLang, targetLang string) string {
	source := LanguageName(sourceLang)
	if sourceLang == "" {
		source = "the source language"
	}
	return fmt.Sprintf(`You are a professional literary translator. Translate from %s to %s.

The user sends a JSON object {"texts": [...]}. Each entry is a text fragment taken from a book; fragments may be partial sentences split around inline formatting.

Rules:
1. Respond with a JSON object {"translations": [...]} holding exactly one translation per input entry, in the same order.
2. Never merge, split, drop or reorder entries.
3. Keep numbers, codes, URLs and proper names unchanged unless they are normally translated.
4. Preserve leading and trailing punctuation of each fragment.
5. Return plain text only: no HTML, no comments, no explanations.`, source, LanguageName(targetLang))
}

func userPrompt(texts []string) (string, error) {
	payload, err := json.Marshal(struct {
		Texts []string `json:"texts"`
	}{texts})
	if err != nil {
		return "", fmt.Errorf("failed to encode batch: %w", err)
	}
	return string(payload), nil
}

func detectPrompt(text string) string {
	return fmt.Sprintf(`Detect the language of the following text. Respond with only the ISO 639-1 language code (e.g., "en", "es", "fr", "de").

Text: %s`, text)
}

// parseTranslations reads {"translations": [...]} from a model reply.
// Code fences and text around the object are tolerated.
func parseTranslations(content string, want int) ([]string, error) {
	content = strings.TrimSpace(content)
	if start := strings.IndexByte(content, '{'); start > 0 {
		content = content[start:]
	}
	if end := strings.LastIndexByte(content, '}'); end >= 0 && end < len(content)-1 {
		content = content[:end+1]
	}
	if !gjson.Valid(content) {
		return nil, fmt.Errorf("%w: reply is not valid JSON", ErrCountMismatch)
	}

	result := gjson.Get(content, "translations")
	if !result.IsArray() {
		return nil, fmt.Errorf("%w: reply has no translations array", ErrCountMismatch)
	}

	items := result.Array()
	if len(items) != want {
		return nil, fmt.Errorf("%w: sent %d, got %d", ErrCountMismatch, want, len(items))
	}

	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.String()
	}
	return out, nil
}

// parseLanguageCode cleans a detection reply down to a two-letter code.
func parseLanguageCode(reply string) string {
	lang := strings.ToLower(strings.TrimSpace(reply))
	lang = strings.Trim(lang, "\"'`. \n")
	if len(lang) > 3 {
		lang = lang[:2]
	}
	return lang
}

// truncateText safely truncates text to a specified number of runes.
func truncateText(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	if maxLength <= 3 {
		return "..."
	}
	return string(runes[:maxLength-3]) + "..."
}
