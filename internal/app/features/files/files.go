// Package files serves the owner-facing file API: uploads, versions, renames
// and moves, trash, sharing, and downloads.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/stratadrive/internal/app/system/blobstore"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/timeouts"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// DefaultMaxUpload is used when no upload limit is configured.
const DefaultMaxUpload = 512 << 20

// Handler provides file handlers.
type Handler struct {
	engine    *lifecycle.Engine
	blobs     blobstore.Store
	maxUpload int64
	errLog    *errorsfeature.ErrorLogger
	logger    *zap.Logger
}

// NewHandler creates a new files Handler.
func NewHandler(
	engine *lifecycle.Engine,
	blobs blobstore.Store,
	maxUpload int64,
	errLog *errorsfeature.ErrorLogger,
	logger *zap.Logger,
) *Handler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	return &Handler{
		engine:    engine,
		blobs:     blobs,
		maxUpload: maxUpload,
		errLog:    errLog,
		logger:    logger,
	}
}

// Routes returns a chi.Router with file routes mounted. Callers wrap it in
// the bearer token middleware.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.upload)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.purge)

	r.Get("/{id}/versions", h.listVersions)
	r.Post("/{id}/versions", h.addVersion)

	r.Post("/{id}/trash", h.trash)
	r.Post("/{id}/restore", h.restore)
	r.Post("/{id}/share", h.share)
	r.Get("/{id}/download", h.download)

	return r
}

// fileID parses the {id} URL parameter. Malformed ids are reported as not
// found, like ids of other owners.
func fileID(r *http.Request) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return primitive.NilObjectID, lifecycle.ErrNotFound
	}
	return id, nil
}

// ParseFolderRef reads a folder reference from a request: "" (or "root")
// is the root, anything else must be an ObjectID hex string.
func ParseFolderRef(s string) (*primitive.ObjectID, error) {
	if s == "" || s == "root" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed folder id", lifecycle.ErrInvalidParent)
	}
	return &id, nil
}

// upload handles POST /api/files.
func (h *Handler) upload(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerID(r)

	in, err := h.receive(w, r, ownerID)
	if err != nil {
		h.writeUploadErr(w, r, err)
		return
	}

	folderID, err := ParseFolderRef(r.FormValue("folder_id"))
	if err != nil {
		h.discard(r.Context(), in)
		h.errLog.Write(w, r, "upload file", err)
		return
	}
	name := r.FormValue("name")
	if name == "" {
		name = in.filename
	}

	f, err := h.engine.CreateFile(r.Context(), lifecycle.CreateFileInput{
		OwnerID:     ownerID,
		FolderID:    folderID,
		Name:        name,
		MimeType:    in.mimeType,
		StorageRef:  in.ref,
		SizeBytes:   in.size,
		ContentHash: in.hash,
	})
	if err != nil {
		h.discard(r.Context(), in)
		h.errLog.Write(w, r, "create file", err)
		return
	}

	jsonutil.Created(w, f)
}

// addVersion handles POST /api/files/{id}/versions.
func (h *Handler) addVersion(w http.ResponseWriter, r *http.Request) {
	ownerID := auth.OwnerID(r)
	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "add version", err)
		return
	}

	in, err := h.receive(w, r, ownerID)
	if err != nil {
		h.writeUploadErr(w, r, err)
		return
	}

	v, err := h.engine.AddVersion(r.Context(), lifecycle.AddVersionInput{
		OwnerID:     ownerID,
		FileID:      id,
		StorageRef:  in.ref,
		SizeBytes:   in.size,
		ContentHash: in.hash,
		MimeType:    in.mimeType,
	})
	if err != nil {
		h.discard(r.Context(), in)
		h.errLog.Write(w, r, "add version", err)
		return
	}

	jsonutil.Created(w, v)
}

func (h *Handler) writeUploadErr(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errTooLarge) {
		jsonutil.TooLarge(w, fmt.Sprintf("upload exceeds the %d byte limit", h.maxUpload))
		return
	}
	h.errLog.Write(w, r, "receive upload", err)
}

// get handles GET /api/files/{id}.
func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "files.get")
	defer cancel()

	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "get file", err)
		return
	}
	f, err := h.engine.GetFile(ctx, auth.OwnerID(r), id)
	if err != nil {
		h.errLog.Write(w, r, "get file", err)
		return
	}
	jsonutil.OK(w, f)
}

// listVersions handles GET /api/files/{id}/versions.
func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "files.list_versions")
	defer cancel()

	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "list versions", err)
		return
	}
	versions, err := h.engine.ListVersions(ctx, auth.OwnerID(r), id)
	if err != nil {
		h.errLog.Write(w, r, "list versions", err)
		return
	}
	jsonutil.OK(w, map[string]any{"versions": versions})
}

type updateInput struct {
	Name     *string `json:"name"`
	FolderID *string `json:"folder_id"` // "" = root
}

// update handles PATCH /api/files/{id}: rename, move, or both.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "files.update")
	defer cancel()

	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "update file", err)
		return
	}
	var in updateInput
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if in.Name == nil && in.FolderID == nil {
		jsonutil.BadRequest(w, "nothing to update: provide name or folder_id")
		return
	}

	ownerID := auth.OwnerID(r)
	var f *models.File
	if in.Name != nil {
		if f, err = h.engine.RenameFile(ctx, ownerID, id, *in.Name); err != nil {
			h.errLog.Write(w, r, "rename file", err)
			return
		}
	}
	if in.FolderID != nil {
		folderID, err := ParseFolderRef(*in.FolderID)
		if err != nil {
			h.errLog.Write(w, r, "move file", err)
			return
		}
		if f, err = h.engine.MoveFile(ctx, ownerID, id, folderID); err != nil {
			h.errLog.Write(w, r, "move file", err)
			return
		}
	}
	jsonutil.OK(w, f)
}

// trash handles POST /api/files/{id}/trash.
func (h *Handler) trash(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "trash file", h.engine.TrashFile)
}

// restore handles POST /api/files/{id}/restore.
func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restore file", h.engine.RestoreFile)
}

// purge handles DELETE /api/files/{id}. Only trashed files can be purged.
func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "purge file", h.engine.PurgeFile)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string,
	apply func(ctx context.Context, ownerID string, id primitive.ObjectID) error) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Long(), h.logger, op)
	defer cancel()

	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, op, err)
		return
	}
	if err := apply(ctx, auth.OwnerID(r), id); err != nil {
		h.errLog.Write(w, r, op, err)
		return
	}
	jsonutil.NoContent(w)
}

type shareInput struct {
	Enabled *bool `json:"enabled"`
}

// share handles POST /api/files/{id}/share.
func (h *Handler) share(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "files.share")
	defer cancel()

	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "set sharing", err)
		return
	}
	var in shareInput
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if in.Enabled == nil {
		jsonutil.BadRequest(w, "enabled is required")
		return
	}

	f, err := h.engine.SetSharing(ctx, auth.OwnerID(r), id, *in.Enabled)
	if err != nil {
		h.errLog.Write(w, r, "set sharing", err)
		return
	}
	jsonutil.OK(w, f)
}

// download handles GET /api/files/{id}/download. ?inline=1 asks for inline
// display, honored only for types that are safe to render.
func (h *Handler) download(w http.ResponseWriter, r *http.Request) {
	id, err := fileID(r)
	if err != nil {
		h.errLog.Write(w, r, "download file", err)
		return
	}
	f, rc, err := h.engine.OpenFile(r.Context(), auth.OwnerID(r), id)
	if err != nil {
		h.errLog.Write(w, r, "download file", err)
		return
	}
	defer rc.Close()

	inline := r.URL.Query().Get("inline") == "1"
	ServeContent(w, f.Name, f.MimeType, f.SizeBytes, inline, rc, h.logger)
}

// ServeContent streams a file body with download headers. It is shared by
// the owner download and the public share link.
func ServeContent(w http.ResponseWriter, name, contentType string, size int64, inline bool, body io.Reader, logger *zap.Logger) {
	disposition := "attachment"
	if inline && InlineSafe(contentType) {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if _, err := io.Copy(w, body); err != nil {
		logger.Warn("failed to stream file",
			zap.String("name", name),
			zap.Error(err))
	}
}
