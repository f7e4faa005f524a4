// Package trash defines the soft-delete state machine shared by files and
// folders: active ⇄ trashed → purged. There is no direct active → purged edge.
package trash

import "errors"

// State is the lifecycle state of a file or folder.
type State string

// States.
const (
	Active  State = "active"
	Trashed State = "trashed"
	Purged  State = "purged"
)

// Action is a requested trash transition.
type Action string

// Actions.
const (
	Trash   Action = "trash"
	Restore Action = "restore"
	Purge   Action = "purge"
)

var (
	// ErrNotTrashed is returned when purging an item that is not in the trash.
	ErrNotTrashed = errors.New("item must be trashed before it can be purged")
	// ErrPurged is returned for any action on a purged item.
	ErrPurged = errors.New("item has been purged")
	// ErrParentTrashed is returned when restoring an item whose parent is trashed.
	ErrParentTrashed = errors.New("parent folder is trashed")
	// ErrUnknownAction is returned for actions outside the state machine.
	ErrUnknownAction = errors.New("unknown trash action")
)

// Next applies action a to state from. It returns the resulting state and
// whether anything changed. Trashing a trashed item and restoring an active
// item are no-op successes.
func Next(from State, a Action) (State, bool, error) {
	if from == Purged {
		return Purged, false, ErrPurged
	}

	switch a {
	case Trash:
		if from == Trashed {
			return Trashed, false, nil
		}
		return Trashed, true, nil
	case Restore:
		if from == Active {
			return Active, false, nil
		}
		return Active, true, nil
	case Purge:
		if from != Trashed {
			return from, false, ErrNotTrashed
		}
		return Purged, true, nil
	}
	return from, false, ErrUnknownAction
}

// CheckRestore enforces the restore policy: an item may only come back when
// its immediate parent is active (or it lives at the root). Restoration is
// never implicitly recursive.
func CheckRestore(parentTrashed bool) error {
	if parentTrashed {
		return ErrParentTrashed
	}
	return nil
}
