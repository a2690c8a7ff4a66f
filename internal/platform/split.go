package platform

// SplitMessage splits content into ordered chunks of at most limit
// characters. Split points are chosen at the highest-priority boundary
// available in the back half of the window: paragraph break, then
// sentence break, then word break, with a hard cut only for an unbroken
// run longer than the limit. The split is lossless: concatenating the
// chunks reproduces the input exactly.
func SplitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}

	var chunks []string
	for len(runes) > limit {
		cut := splitPoint(runes, limit)
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

// splitPoint picks where to cut the next chunk. Boundaries closer than
// half the window are ignored so a stray early newline does not produce
// a tiny chunk.
func splitPoint(runes []rune, limit int) int {
	floor := limit / 2

	// Paragraph break: cut after the newline.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}

	// Sentence break: punctuation followed by whitespace or end.
	for i := limit - 1; i > floor; i-- {
		if isSentenceEnd(runes[i]) && (i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n') {
			return i + 1
		}
	}

	// Word break: cut after the space.
	for i := limit - 1; i > floor; i-- {
		if runes[i] == ' ' {
			return i + 1
		}
	}

	// Unbroken run: hard cut at the limit.
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
