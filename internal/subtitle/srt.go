package subtitle

import (
	"fmt"
	"strings"

	"github.com/subtitleworks/core/pkg/types"
)

// WriteSRT renders subtitles as standard monolingual SRT text.
func WriteSRT(subtitles []types.Subtitle) string {
	var b strings.Builder
	for _, s := range subtitles {
		writeSRTEntry(&b, s.Index+1, s.Start, s.End, s.Text)
	}
	return b.String()
}

// WriteBilingualSRT renders subtitles as SRT text with the translation on a
// second line whenever it is non-empty.
func WriteBilingualSRT(subtitles []types.Subtitle) string {
	var b strings.Builder
	for _, s := range subtitles {
		text := s.Text
		if strings.TrimSpace(s.Translation) != "" {
			text = text + "\n" + s.Translation
		}
		writeSRTEntry(&b, s.Index+1, s.Start, s.End, text)
	}
	return b.String()
}

func writeSRTEntry(b *strings.Builder, number int, start, end float64, text string) {
	fmt.Fprintf(b, "%d\n%s --> %s\n%s\n\n", number, formatTimestamp(start), formatTimestamp(end), text)
}

// formatTimestamp renders seconds as SRT's HH:MM:SS,mmm timestamp format.
func formatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(seconds*1000 + 0.5)
	hours := totalMillis / 3_600_000
	totalMillis %= 3_600_000
	minutes := totalMillis / 60_000
	totalMillis %= 60_000
	secs := totalMillis / 1000
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
