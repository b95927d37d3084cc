package translation

import (
	"context"
	"fmt"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/sirupsen/logrus"
)

// detectSampleSize bounds the text handed to the detectors.
const detectSampleSize = 2000

// DetectLanguage identifies the language of sample locally and asks the
// backend only when the local guess is unreliable.
func DetectLanguage(ctx context.Context, sample string, backend Translator, logger *logrus.Logger) (string, error) {
	sample = strings.TrimSpace(truncateText(sample, detectSampleSize))
	if sample == "" {
		return "", fmt.Errorf("no suitable text samples found for language detection")
	}

	info := whatlanggo.Detect(sample)
	if code := info.Lang.Iso6391(); code != "" && info.IsReliable() {
		logger.Debugf("Detected language locally: %s (confidence %.2f)", code, info.Confidence)
		return code, nil
	}

	if backend == nil {
		return "", fmt.Errorf("language detection is not reliable and no backend is available")
	}

	logger.Debugf("Local detection unreliable (%s, %.2f), asking %s", info.Lang.String(), info.Confidence, backend.Name())
	lang, err := backend.DetectLanguage(ctx, sample)
	if err != nil {
		return "", err
	}
	if lang == "" {
		return "", fmt.Errorf("backend returned no language code")
	}
	return NormalizeLanguage(lang), nil
}
