package pipeline

import (
	"context"
	"errors"

	"github.com/subtitleworks/core/internal/urlcache"
	"github.com/subtitleworks/core/pkg/types"
)

// runDownloadSource resolves a URL job's source into a local media file via
// the URL ingestion cache, reporting progress in the 3-12% band.
func (e *Engine) runDownloadSource(ctx context.Context, job *types.Job, report ProgressFunc, shouldCancel ShouldCancelFunc) (string, error) {
	if e.deps.URLIngestor == nil {
		return "", NewStageError(StageDownloadSource, CodeDownloadFailed, errors.New("pipeline: no url ingestor configured"))
	}

	watched, stop := watchCancel(ctx, shouldCancel)
	defer stop()

	report(bandDownloadStart, StageDownloadSource, "resolving source url", nil)

	var path string
	err := e.traced(watched, job, StageDownloadSource, func(spanCtx context.Context) error {
		var innerErr error
		path, innerErr = e.deps.URLIngestor.Ingest(spanCtx, job.SourceURL, job.WorkDir, func(percent int, message string) {
			report(mapBand(percent, 100, bandDownloadStart, bandDownloadEnd), StageDownloadSource, message, nil)
		})
		return innerErr
	})
	if err != nil {
		return "", classifyDownloadErr(err)
	}
	return path, nil
}

func classifyDownloadErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, urlcache.ErrCancelled):
		return NewStageError(StageDownloadSource, CodeCancelRequested, ErrCancelled)
	case errors.Is(err, urlcache.ErrInvalidSourceURL):
		return NewStageError(StageDownloadSource, CodeInvalidSourceURL, err)
	case errors.Is(err, urlcache.ErrYTDLPNotAvailable):
		return NewStageError(StageDownloadSource, CodeYTDLPNotAvailable, err)
	case errors.Is(err, urlcache.ErrDownloadTimeout):
		return NewStageError(StageDownloadSource, CodeDownloadTimeout, err)
	case errors.Is(err, urlcache.ErrOutputMissing):
		return NewStageError(StageDownloadSource, CodeDownloadOutputMissing, err)
	}

	var cmdErr *urlcache.CommandError
	if errors.As(err, &cmdErr) {
		code := CodeYTDLPCommandFailed
		if errors.Is(cmdErr, urlcache.ErrYTDLPNotAvailable) {
			code = CodeYTDLPLaunchFailed
		} else if errors.Is(cmdErr, urlcache.ErrOutputMissing) {
			code = CodeDownloadOutputMissing
		}
		return NewStageError(StageDownloadSource, code, err).WithDetail(cmdErr.Detail)
	}
	return NewStageError(StageDownloadSource, CodeDownloadFailed, err)
}
