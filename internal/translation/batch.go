package translation

import "unicode/utf8"

// Batch is a run of consecutive texts sent in a single request. Start is
// the index of the first text in the input slice.
type Batch struct {
	Start int
	Texts []string
}

// MakeBatches groups texts in order, with at most maxItems texts and
// maxChars characters per batch. A text longer than maxChars is sent alone.
// Non-positive limits disable that bound.
func MakeBatches(texts []string, maxItems, maxChars int) []Batch {
	var (
		batches []Batch
		current Batch
		chars   int
	)

	flush := func() {
		if len(current.Texts) > 0 {
			batches = append(batches, current)
		}
		current = Batch{}
		chars = 0
	}

	for i, text := range texts {
		n := utf8.RuneCountInString(text)
		full := maxItems > 0 && len(current.Texts) >= maxItems
		over := maxChars > 0 && len(current.Texts) > 0 && chars+n > maxChars
		if full || over {
			flush()
		}
		if len(current.Texts) == 0 {
			current.Start = i
		}
		current.Texts = append(current.Texts, text)
		chars += n
	}
	flush()

	return batches
}
