package pipeline

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/subtitleworks/core/internal/align"
	"github.com/subtitleworks/core/internal/subtitle"
	"github.com/subtitleworks/core/pkg/types"
)

// salvageFileName holds the untranslated sentences and word stream captured
// right after asr succeeds, so a later llm_translate failure still has
// something to align against for a best-effort result.
const salvageFileName = "pipeline_salvage.json"

type salvageSnapshot struct {
	Sentences    []types.Sentence    `json:"sentences"`
	WordSegments []types.WordSegment `json:"word_segments"`
}

// writeSalvageSnapshot persists sentences/words for full and url jobs. Resume
// jobs don't need it: their ResumeSentences/ResumeWordSegments already serve
// the same purpose.
func writeSalvageSnapshot(workDir string, sentences []types.Sentence, words []types.WordSegment) error {
	data, err := json.Marshal(salvageSnapshot{Sentences: sentences, WordSegments: words})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(workDir, salvageFileName), data, 0o644)
}

func readSalvageSnapshot(workDir string) (*salvageSnapshot, error) {
	data, err := os.ReadFile(filepath.Join(workDir, salvageFileName))
	if err != nil {
		return nil, err
	}
	var snap salvageSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Salvage synthesizes a best-effort, untranslated Subtitle set from the last
// successful sentence/word-stream pair. It skips drift correction for
// simplicity and returns (nil, nil) when nothing salvageable is found, per
// the Runner contract.
func (e *Engine) Salvage(job *types.Job) (*types.Result, error) {
	var sentences []types.Sentence
	var words []types.WordSegment

	if job.Kind == types.JobKindResume {
		sentences = job.ResumeSentences
		words = job.ResumeWordSegments
	} else {
		snap, err := readSalvageSnapshot(job.WorkDir)
		if err != nil {
			return nil, nil
		}
		sentences, words = snap.Sentences, snap.WordSegments
	}

	if len(sentences) == 0 || len(words) == 0 {
		return nil, nil
	}

	aligned, _, err := align.Align(sentences, words, align.Options{
		AllowWordStreamFallback: job.Options.ASRModel == qwenWordStreamModel,
	})
	if err != nil {
		return nil, nil
	}

	subs := subtitle.NormalizeTimeline(aligned)
	if len(subs) == 0 {
		return nil, nil
	}
	return &types.Result{Subtitles: subs}, nil
}
