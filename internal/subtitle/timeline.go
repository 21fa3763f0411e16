package subtitle

import "github.com/subtitleworks/core/pkg/types"

// NormalizeTimeline renumbers sentences into display subtitles, clamping
// each entry's end to its start and enforcing strict non-overlap against
// the previous entry.
func NormalizeTimeline(sentences []types.Sentence) []types.Subtitle {
	out := make([]types.Subtitle, 0, len(sentences))
	prevEnd := 0.0
	for i, s := range sentences {
		start := s.Start
		end := s.End
		if start < prevEnd {
			start = prevEnd
		}
		if end < start {
			end = start
		}
		out = append(out, types.Subtitle{
			ID:          i + 1,
			Index:       i,
			Start:       start,
			End:         end,
			Text:        s.Text,
			Translation: s.Translation,
		})
		prevEnd = end
	}
	return out
}
