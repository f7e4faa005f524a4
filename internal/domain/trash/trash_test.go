package trash

import (
	"errors"
	"testing"
)

func TestNext(t *testing.T) {
	tests := []struct {
		name        string
		from        State
		action      Action
		want        State
		wantChanged bool
		wantErr     error
	}{
		{"trash active", Active, Trash, Trashed, true, nil},
		{"trash trashed is no-op", Trashed, Trash, Trashed, false, nil},
		{"restore trashed", Trashed, Restore, Active, true, nil},
		{"restore active is no-op", Active, Restore, Active, false, nil},
		{"purge trashed", Trashed, Purge, Purged, true, nil},
		{"purge active rejected", Active, Purge, Active, false, ErrNotTrashed},
		{"purged is terminal", Purged, Restore, Purged, false, ErrPurged},
		{"purged cannot be trashed", Purged, Trash, Purged, false, ErrPurged},
		{"unknown action", Active, Action("shred"), Active, false, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed, err := Next(tt.from, tt.action)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Next() error = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Next() state = %v, want %v", got, tt.want)
			}
			if changed != tt.wantChanged {
				t.Errorf("Next() changed = %v, want %v", changed, tt.wantChanged)
			}
		})
	}
}

func TestCheckRestore(t *testing.T) {
	if err := CheckRestore(false); err != nil {
		t.Errorf("CheckRestore(false) = %v, want nil", err)
	}
	if err := CheckRestore(true); !errors.Is(err, ErrParentTrashed) {
		t.Errorf("CheckRestore(true) = %v, want %v", err, ErrParentTrashed)
	}
}
