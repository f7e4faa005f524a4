// Package processing holds the job handlers that derive artifacts
// (thumbnails, metadata, transcodes, image tags) from stored file content.
//
// Each handler works on the exact content named in the job payload and writes
// its result back through the lifecycle engine, which drops results for
// content the file has since replaced.
package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	jobstore "github.com/dalemusser/stratadrive/internal/app/store/jobs"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/jobrunner"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/waffle/pantry/storage"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrUnsupported means a processor cannot handle the content type. The job
// completes as skipped.
var ErrUnsupported = errors.New("unsupported content type")

// errContentGone means the job's content was replaced or purged.
var errContentGone = errors.New("content no longer current")

// Thumbnailer renders a JPEG preview no larger than maxDim on either side.
type Thumbnailer interface {
	Thumbnail(ctx context.Context, r io.Reader, mimeType string, maxDim int) ([]byte, error)
}

// MetadataExtractor reads descriptive fields from content.
type MetadataExtractor interface {
	Extract(ctx context.Context, r io.Reader, mimeType string) (map[string]any, error)
}

// Transcoder converts video content to a streamable MP4 written to w.
type Transcoder interface {
	Transcode(ctx context.Context, r io.Reader, mimeType string, w io.Writer) error
}

// ImageAnalyzer produces descriptive tags for an image.
type ImageAnalyzer interface {
	Analyze(ctx context.Context, r io.Reader, mimeType string) ([]string, error)
}

// Sink receives artifacts. *lifecycle.Engine implements it.
type Sink interface {
	ApplyArtifacts(ctx context.Context, fileID primitive.ObjectID, storagePath string, u lifecycle.ArtifactUpdate) (bool, error)
	IsCurrent(ctx context.Context, fileID primitive.ObjectID, storagePath string) (bool, error)
}

// Config tunes the handlers.
type Config struct {
	ThumbnailMaxDim int
}

// Handlers processes derived-artifact jobs. A nil processor makes its job
// type complete as skipped.
type Handlers struct {
	Blobs      blobstore.Store
	Sink       Sink
	Thumbnails Thumbnailer
	Metadata   MetadataExtractor
	Transcoder Transcoder
	Analyzer   ImageAnalyzer
	Config     Config
	Logger     *zap.Logger
}

// New returns handlers backed by the built-in image processors. No
// transcoder is configured by default.
func New(blobs blobstore.Store, sink Sink, cfg Config, logger *zap.Logger) *Handlers {
	if cfg.ThumbnailMaxDim <= 0 {
		cfg.ThumbnailMaxDim = 256
	}
	return &Handlers{
		Blobs:      blobs,
		Sink:       sink,
		Thumbnails: ImageThumbnailer{},
		Metadata:   BasicExtractor{},
		Analyzer:   ColorAnalyzer{},
		Config:     cfg,
		Logger:     logger,
	}
}

// Register installs a handler for every artifact job type.
func (h *Handlers) Register(r *jobrunner.Runner) {
	r.Register(jobstore.TypeGenerateThumbnail, h.GenerateThumbnail)
	r.Register(jobstore.TypeExtractMetadata, h.ExtractMetadata)
	r.Register(jobstore.TypeTranscodeVideo, h.TranscodeVideo)
	r.Register(jobstore.TypeAnalyzeImage, h.AnalyzeImage)
}

// GenerateThumbnail stores a JPEG preview and records its key on the file.
func (h *Handlers) GenerateThumbnail(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	if h.Thumbnails == nil {
		return h.skip(job, ErrUnsupported)
	}
	p := job.Payload

	rc, err := h.open(ctx, p)
	if err != nil {
		return h.skip(job, err)
	}
	defer rc.Close()

	data, err := h.Thumbnails.Thumbnail(ctx, rc, p.MimeType, h.Config.ThumbnailMaxDim)
	if err != nil {
		return h.skip(job, err)
	}

	key := blobstore.ThumbnailKey(p.FileID.Hex(), p.StoragePath)
	if err := h.Blobs.Put(ctx, key, bytes.NewReader(data), &storage.PutOptions{ContentType: "image/jpeg"}); err != nil {
		return nil, fmt.Errorf("store thumbnail: %w", err)
	}
	return h.apply(ctx, p, key, lifecycle.ArtifactUpdate{ThumbnailPath: key}, map[string]any{
		"thumbnail_path": key,
		"bytes":          len(data),
	})
}

// ExtractMetadata records descriptive fields on the file.
func (h *Handlers) ExtractMetadata(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	if h.Metadata == nil {
		return h.skip(job, ErrUnsupported)
	}
	p := job.Payload

	rc, err := h.open(ctx, p)
	if err != nil {
		return h.skip(job, err)
	}
	defer rc.Close()

	meta, err := h.Metadata.Extract(ctx, rc, p.MimeType)
	if err != nil {
		return h.skip(job, err)
	}
	return h.apply(ctx, p, "", lifecycle.ArtifactUpdate{Metadata: meta}, map[string]any{
		"fields": len(meta),
	})
}

// TranscodeVideo streams the transcoder output straight into blob storage.
func (h *Handlers) TranscodeVideo(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	if h.Transcoder == nil {
		return h.skip(job, fmt.Errorf("no transcoder configured: %w", ErrUnsupported))
	}
	p := job.Payload

	rc, err := h.open(ctx, p)
	if err != nil {
		return h.skip(job, err)
	}
	defer rc.Close()

	key := blobstore.TranscodeKey(p.FileID.Hex(), p.StoragePath)
	pr, pw := io.Pipe()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := h.Transcoder.Transcode(gctx, rc, p.MimeType, pw)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		err := h.Blobs.Put(gctx, key, pr, &storage.PutOptions{ContentType: "video/mp4"})
		pr.CloseWithError(err)
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, ErrUnsupported) {
			return h.skip(job, err)
		}
		return nil, fmt.Errorf("transcode: %w", err)
	}

	return h.apply(ctx, p, key, lifecycle.ArtifactUpdate{TranscodePath: key}, map[string]any{
		"transcode_path": key,
	})
}

// AnalyzeImage records descriptive tags on the file.
func (h *Handlers) AnalyzeImage(ctx context.Context, job *jobstore.Job) (map[string]any, error) {
	if h.Analyzer == nil {
		return h.skip(job, ErrUnsupported)
	}
	p := job.Payload

	rc, err := h.open(ctx, p)
	if err != nil {
		return h.skip(job, err)
	}
	defer rc.Close()

	tags, err := h.Analyzer.Analyze(ctx, rc, p.MimeType)
	if err != nil {
		return h.skip(job, err)
	}
	return h.apply(ctx, p, "", lifecycle.ArtifactUpdate{AITags: tags}, map[string]any{
		"tags": tags,
	})
}

// open reads the payload content. A read failure for content the file no
// longer points at is errContentGone; anything else is retried.
func (h *Handlers) open(ctx context.Context, p jobstore.Payload) (io.ReadCloser, error) {
	rc, err := h.Blobs.Get(ctx, p.StoragePath)
	if err == nil {
		return rc, nil
	}
	current, cerr := h.Sink.IsCurrent(ctx, p.FileID, p.StoragePath)
	if cerr == nil && !current {
		return nil, errContentGone
	}
	return nil, fmt.Errorf("open %s: %w", p.StoragePath, err)
}

// apply writes u back to the file. When the file has moved on, the artifact
// blob (if any) is deleted and the job still completes.
func (h *Handlers) apply(ctx context.Context, p jobstore.Payload, blobKey string, u lifecycle.ArtifactUpdate, result map[string]any) (map[string]any, error) {
	applied, err := h.Sink.ApplyArtifacts(ctx, p.FileID, p.StoragePath, u)
	if err != nil {
		return nil, fmt.Errorf("apply artifacts: %w", err)
	}
	if !applied && blobKey != "" {
		if err := h.Blobs.Delete(ctx, blobKey); err != nil {
			h.Logger.Warn("failed to delete superseded artifact",
				zap.String("path", blobKey),
				zap.Error(err))
		}
	}
	result["applied"] = applied
	return result, nil
}

// skip completes the job without an artifact for unsupported or vanished
// content and passes any other error through for retry.
func (h *Handlers) skip(job *jobstore.Job, err error) (map[string]any, error) {
	if !errors.Is(err, ErrUnsupported) && !errors.Is(err, errContentGone) {
		return nil, err
	}
	h.Logger.Info("job skipped",
		zap.String("job_id", job.ID.Hex()),
		zap.String("job_type", job.JobType),
		zap.String("file_id", job.Payload.FileID.Hex()),
		zap.String("reason", err.Error()))
	return map[string]any{"skipped": err.Error()}, nil
}
