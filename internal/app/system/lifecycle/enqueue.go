package lifecycle

import (
	"context"
	"strings"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"go.uber.org/zap"
)

// JobTypesFor returns the derived-artifact jobs for content of mimeType.
// Images, videos, and documents get a thumbnail and metadata; images are
// also analyzed and videos transcoded. Anything else gets no jobs.
func JobTypesFor(mimeType string) []string {
	mimeType = strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return []string{jobstore.TypeGenerateThumbnail, jobstore.TypeExtractMetadata, jobstore.TypeAnalyzeImage}
	case strings.HasPrefix(mimeType, "video/"):
		return []string{jobstore.TypeGenerateThumbnail, jobstore.TypeExtractMetadata, jobstore.TypeTranscodeVideo}
	case isDocument(mimeType):
		return []string{jobstore.TypeGenerateThumbnail, jobstore.TypeExtractMetadata}
	}
	return nil
}

func isDocument(mimeType string) bool {
	switch filestore.FileTypeCategory(mimeType) {
	case "pdf", "document", "spreadsheet", "presentation":
		return true
	}
	return false
}

// enqueueArtifacts queues jobs for the file's current content. It runs after
// the data change committed; failures are logged and never undo the change.
func (e *Engine) enqueueArtifacts(ctx context.Context, f *models.File) {
	types := JobTypesFor(f.MimeType)
	if len(types) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.EnqueueTimeout)
	defer cancel()

	payload := jobstore.Payload{
		FileID:       f.ID,
		OwnerID:      f.OwnerID,
		StoragePath:  f.StoragePath,
		MimeType:     f.MimeType,
		OriginalName: f.Name,
	}
	for _, t := range types {
		if _, err := e.jobs.Enqueue(ctx, t, payload, e.cfg.MaxJobAttempts); err != nil {
			e.logger.Warn("failed to enqueue job",
				zap.String("job_type", t),
				zap.String("file_id", f.ID.Hex()),
				zap.Error(err))
		}
	}
}
