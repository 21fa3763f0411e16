package translate

// batchRange is a half-open [start, end) range of line indices.
type batchRange struct {
	start, end int
}

// splitBatches partitions lines into batches honoring maxItems and maxChars
// simultaneously, the way the teacher domain's chunk splitter does, except
// that a batch is not flushed on the char limit alone until it holds at
// least minItems lines (the "char limit yields after min_items" rule).
func splitBatches(lines []string, maxItems, maxChars, minItems int) []batchRange {
	if len(lines) == 0 {
		return nil
	}
	if maxItems < 1 {
		maxItems = 1
	}
	if maxChars < 1 {
		maxChars = 1
	}

	var batches []batchRange
	start := 0
	cursor := 0
	charCount := 0
	lineCount := 0

	for cursor < len(lines) {
		line := lines[cursor]
		lineChars := len(line)

		shouldFlush := false
		switch {
		case lineCount >= maxItems:
			shouldFlush = true
		case lineCount >= minItems && lineCount > 0 && charCount+lineChars > maxChars:
			shouldFlush = true
		}

		if shouldFlush {
			batches = append(batches, batchRange{start: start, end: cursor})
			start = cursor
			charCount = 0
			lineCount = 0
			continue
		}

		charCount += lineChars
		lineCount++
		cursor++
	}

	if start < len(lines) {
		batches = append(batches, batchRange{start: start, end: len(lines)})
	}
	return batches
}
