package lifecycle

import (
	"errors"

	filestore "github.com/dalemusser/stratadrive/internal/app/store/file"
	folderstore "github.com/dalemusser/stratadrive/internal/app/store/folder"
	quotastore "github.com/dalemusser/stratadrive/internal/app/store/quota"
	"github.com/dalemusser/stratadrive/internal/app/system/htmlsanitize"
	"github.com/dalemusser/stratadrive/internal/domain/trash"
)

var (
	// ErrNotFound means the id does not resolve to a record the caller owns.
	ErrNotFound = errors.New("not found")
	// ErrTrashed means the operation is not allowed on a trashed item.
	ErrTrashed = errors.New("item is trashed")
	// ErrNotTrashed means the item must be trashed first (purge).
	ErrNotTrashed = errors.New("item is not trashed")
	// ErrInvalidParent means the target folder is missing, trashed, owned by
	// someone else, or would create a cycle.
	ErrInvalidParent = errors.New("invalid parent folder")
	// ErrQuotaExceeded means the operation would push usage past the quota.
	ErrQuotaExceeded = errors.New("storage quota exceeded")
	// ErrAlreadyExists means a unique value collided. Share token collisions
	// are retried internally, so callers only see it if retries run out.
	ErrAlreadyExists = errors.New("already exists")
	// ErrInvalidInput means a request field failed validation.
	ErrInvalidInput = errors.New("invalid input")
)

// translate maps store and domain errors to engine errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, filestore.ErrNotFound), errors.Is(err, folderstore.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, quotastore.ErrExceeded):
		return ErrQuotaExceeded
	case errors.Is(err, trash.ErrNotTrashed):
		return ErrNotTrashed
	case errors.Is(err, trash.ErrParentTrashed):
		return ErrInvalidParent
	case errors.Is(err, trash.ErrPurged):
		return ErrNotFound
	case errors.Is(err, htmlsanitize.ErrInvalidName):
		return ErrInvalidInput
	}
	return err
}
