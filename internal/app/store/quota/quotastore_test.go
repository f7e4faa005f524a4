package quota

import (
	"errors"
	"sync"
	"testing"

	"github.com/dalemusser/stratadrive/internal/domain/quota"
	"github.com/dalemusser/stratadrive/internal/testutil"
)

func TestStore_Get_Default(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, 1000)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	u, err := store.Get(ctx, "nobody")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if u.QuotaBytes != 1000 || u.UsedBytes != 0 {
		t.Errorf("Get() = %+v, want quota 1000 used 0", u)
	}
}

func TestStore_Charge(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, 1000)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.Charge(ctx, "o", 600); err != nil {
		t.Fatalf("Charge(600) error = %v", err)
	}
	if err := store.Charge(ctx, "o", 500); !errors.Is(err, ErrExceeded) {
		t.Errorf("Charge(500) error = %v, want ErrExceeded", err)
	}
	if err := store.Charge(ctx, "o", 400); err != nil {
		t.Errorf("Charge(400) to exactly the limit error = %v", err)
	}
	if err := store.Release(ctx, "o", 300); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	u, _ := store.Get(ctx, "o")
	if u.UsedBytes != 700 {
		t.Errorf("UsedBytes = %d, want 700", u.UsedBytes)
	}
}

func TestStore_Charge_Concurrent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, 1000)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Charge(ctx, "o", 100); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Errorf("successful charges = %d, want 10", ok)
	}
	u, _ := store.Get(ctx, "o")
	if u.UsedBytes != 1000 {
		t.Errorf("UsedBytes = %d, want 1000", u.UsedBytes)
	}
}

func TestStore_ApplyCorrection(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, 1000)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store.Charge(ctx, "o", 500)
	store.Charge(ctx, "busy", 300)

	tests := []struct {
		name    string
		c       quota.Correction
		applied bool
		want    int64
	}{
		{"ledger unchanged", quota.Correction{OwnerID: "o", Recorded: 500, Actual: 120}, true, 120},
		{"charged since read", quota.Correction{OwnerID: "busy", Recorded: 200, Actual: 50}, false, 300},
		{"no ledger yet", quota.Correction{OwnerID: "new", Recorded: 0, Actual: 75}, true, 75},
		{"ledger appeared since read", quota.Correction{OwnerID: "busy", Recorded: 0, Actual: 10}, false, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applied, err := store.ApplyCorrection(ctx, tt.c)
			if err != nil {
				t.Fatalf("ApplyCorrection() error = %v", err)
			}
			if applied != tt.applied {
				t.Errorf("applied = %v, want %v", applied, tt.applied)
			}
			used, err := store.UsedByOwner(ctx)
			if err != nil {
				t.Fatalf("UsedByOwner() error = %v", err)
			}
			if used[tt.c.OwnerID] != tt.want {
				t.Errorf("used[%s] = %d, want %d", tt.c.OwnerID, used[tt.c.OwnerID], tt.want)
			}
		})
	}
}

func TestStore_SetQuota(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := New(db, 1000)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	if err := store.SetQuota(ctx, "o", 50); err != nil {
		t.Fatalf("SetQuota() error = %v", err)
	}
	if err := store.Charge(ctx, "o", 51); !errors.Is(err, ErrExceeded) {
		t.Errorf("Charge(51) error = %v, want ErrExceeded", err)
	}
}
