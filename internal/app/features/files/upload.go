package files

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/waffle/pantry/storage"
	"golang.org/x/crypto/blake2b"
	"go.uber.org/zap"
)

const (
	formMemory        = 8 << 20 // parts beyond this spill to temp files
	multipartOverhead = 1 << 20 // headers and small fields around the file part
)

// errTooLarge means the upload is over max_upload_bytes.
var errTooLarge = errors.New("upload exceeds the size limit")

// received is uploaded content already written to blob storage.
type received struct {
	ref      string
	filename string
	mimeType string
	size     int64
	hash     string // blake2b-256, hex
}

// sniffLen is how much content type sniffing looks at.
const sniffLen = 512

// receive reads the "file" part of a multipart request and stores it under a
// fresh blob key. The caller owns the blob until a lifecycle call accepts it.
func (h *Handler) receive(w http.ResponseWriter, r *http.Request, ownerID string) (*received, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		if isBodyTooLarge(err) {
			return nil, errTooLarge
		}
		return nil, fmt.Errorf("%w: malformed multipart body", lifecycle.ErrInvalidInput)
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: multipart field \"file\" is required", lifecycle.ErrInvalidInput)
	}
	defer part.Close()
	if header.Size > h.maxUpload {
		return nil, errTooLarge
	}

	hash, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReaderSize(part, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	counter := &blobstore.CountingReader{R: io.TeeReader(br, hash)}

	in := &received{
		filename: header.Filename,
		mimeType: DetectMimeType(header.Header.Get("Content-Type"), header.Filename, head),
		ref:      blobstore.VersionKey(ownerID, header.Filename, time.Now().UTC()),
	}
	if err := h.blobs.Put(r.Context(), in.ref, counter, &storage.PutOptions{ContentType: in.mimeType}); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}

	in.size = counter.N
	in.hash = hex.EncodeToString(hash.Sum(nil))
	return in, nil
}

// discard removes an upload the lifecycle rejected.
func (h *Handler) discard(ctx context.Context, in *received) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := h.blobs.Delete(ctx, in.ref); err != nil {
		h.logger.Warn("failed to delete rejected upload",
			zap.String("storage_path", in.ref),
			zap.Error(err))
	}
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
