// Package folders serves the folder API: create, list contents, rename and
// move, and trash transitions.
package folders

import (
	"context"
	"net/http"

	errorsfeature "github.com/dalemusser/stratadrive/internal/app/features/errors"
	"github.com/dalemusser/stratadrive/internal/app/features/files"
	"github.com/dalemusser/stratadrive/internal/app/system/auth"
	"github.com/dalemusser/stratadrive/internal/app/system/inputval"
	"github.com/dalemusser/stratadrive/internal/app/system/jsonutil"
	"github.com/dalemusser/stratadrive/internal/app/system/lifecycle"
	"github.com/dalemusser/stratadrive/internal/app/system/timeouts"
	"github.com/dalemusser/stratadrive/internal/domain/models"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Handler provides folder handlers.
type Handler struct {
	engine *lifecycle.Engine
	errLog *errorsfeature.ErrorLogger
	logger *zap.Logger
}

// NewHandler creates a new folders Handler.
func NewHandler(engine *lifecycle.Engine, errLog *errorsfeature.ErrorLogger, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, errLog: errLog, logger: logger}
}

// Routes returns a chi.Router with folder routes mounted.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/{id}", h.list)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.purge)
	r.Post("/{id}/trash", h.trash)
	r.Post("/{id}/restore", h.restore)
	return r
}

func folderID(r *http.Request) (primitive.ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(chi.URLParam(r, "id"))
	if err != nil {
		return primitive.NilObjectID, lifecycle.ErrNotFound
	}
	return id, nil
}

type createInput struct {
	Name     string `json:"name" validate:"required,max=255" label:"Name"`
	ParentID string `json:"parent_id"` // "" = root
}

// create handles POST /api/folders.
func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Short(), h.logger, "folders.create")
	defer cancel()

	var in createInput
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if res := inputval.Validate(in); res.HasErrors() {
		jsonutil.ValidationError(w, res.Fields())
		return
	}
	parentID, err := files.ParseFolderRef(in.ParentID)
	if err != nil {
		h.errLog.Write(w, r, "create folder", err)
		return
	}

	folder, err := h.engine.CreateFolder(ctx, auth.OwnerID(r), parentID, in.Name)
	if err != nil {
		h.errLog.Write(w, r, "create folder", err)
		return
	}
	jsonutil.Created(w, folder)
}

// list handles GET /api/folders/{id}; the id "root" lists the owner's root.
//
// Query: sort=name|created_at|size|type, order=asc|desc, type=<mime prefix>.
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "folders.list")
	defer cancel()

	var id *primitive.ObjectID
	if chi.URLParam(r, "id") != "root" {
		oid, err := folderID(r)
		if err != nil {
			h.errLog.Write(w, r, "list folder", err)
			return
		}
		id = &oid
	}

	q := r.URL.Query()
	opts := lifecycle.ListOptions{SortBy: q.Get("sort"), MimeType: q.Get("type")}
	if q.Get("order") == "desc" {
		opts.SortOrder = -1
	}

	listing, err := h.engine.ListFolder(ctx, auth.OwnerID(r), id, opts)
	if err != nil {
		h.errLog.Write(w, r, "list folder", err)
		return
	}
	jsonutil.OK(w, listing)
}

type updateInput struct {
	Name     *string `json:"name"`
	ParentID *string `json:"parent_id"` // "" = root
}

// update handles PATCH /api/folders/{id}: rename, move, or both.
func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Medium(), h.logger, "folders.update")
	defer cancel()

	id, err := folderID(r)
	if err != nil {
		h.errLog.Write(w, r, "update folder", err)
		return
	}
	var in updateInput
	if err := jsonutil.Decode(r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if in.Name == nil && in.ParentID == nil {
		jsonutil.BadRequest(w, "nothing to update: provide name or parent_id")
		return
	}

	ownerID := auth.OwnerID(r)
	var folder *models.Folder
	if in.Name != nil {
		if folder, err = h.engine.RenameFolder(ctx, ownerID, id, *in.Name); err != nil {
			h.errLog.Write(w, r, "rename folder", err)
			return
		}
	}
	if in.ParentID != nil {
		parentID, err := files.ParseFolderRef(*in.ParentID)
		if err != nil {
			h.errLog.Write(w, r, "move folder", err)
			return
		}
		if folder, err = h.engine.MoveFolder(ctx, ownerID, id, parentID); err != nil {
			h.errLog.Write(w, r, "move folder", err)
			return
		}
	}
	jsonutil.OK(w, folder)
}

// trash handles POST /api/folders/{id}/trash. The whole subtree goes to the
// trash with it.
func (h *Handler) trash(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "trash folder", h.engine.TrashFolder)
}

// restore handles POST /api/folders/{id}/restore. Contents stay trashed.
func (h *Handler) restore(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "restore folder", h.engine.RestoreFolder)
}

// purge handles DELETE /api/folders/{id}.
func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "purge folder", h.engine.PurgeFolder)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op string,
	apply func(ctx context.Context, ownerID string, id primitive.ObjectID) error) {
	ctx, cancel := timeouts.WithTimeout(r.Context(), timeouts.Batch(), h.logger, op)
	defer cancel()

	id, err := folderID(r)
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
