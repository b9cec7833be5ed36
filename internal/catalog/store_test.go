package catalog

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRegisterNeverDowngrades(t *testing.T) {
	store := NewStore(nil)

	store.Register("users.tests.TestUserViews.test_login")
	rec, ok := store.Get("users.tests.TestUserViews.test_login")
	if !ok || rec.Status != StatusUnknown {
		t.Fatalf("expected unknown after first register, got %v", rec.Status)
	}

	store.SetStatus("users.tests.TestUserViews.test_login", StatusPassed)
	store.Register("users.tests.TestUserViews.test_login")
	rec, _ = store.Get("users.tests.TestUserViews.test_login")
	if rec.Status != StatusPassed {
		t.Errorf("re-register downgraded status to %v", rec.Status)
	}
}

func TestResetSubtree(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("users.tests.TestUserViews.test_login", StatusPassed)
	store.SetStatus("users.tests.TestUserViews.test_logout", StatusFailed)
	store.SetStatus("orders.tests.TestOrders.test_create", StatusPassed)

	store.ResetSubtree("users.tests.TestUserViews")

	tests := []struct {
		id   string
		want Status
	}{
		{"users.tests.TestUserViews.test_login", StatusPending},
		{"users.tests.TestUserViews.test_logout", StatusPending},
		{"users.tests.TestUserViews", StatusPending},
		{"orders.tests.TestOrders.test_create", StatusPassed},
	}
	for _, tt := range tests {
		rec, ok := store.Get(tt.id)
		if !ok {
			t.Fatalf("missing record %s", tt.id)
		}
		if rec.Status != tt.want {
			t.Errorf("%s = %v, want %v", tt.id, rec.Status, tt.want)
		}
	}
}

func TestRestoreStatusesRewindsReset(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("users.tests.TestUserViews.test_login", StatusPassed)
	store.SetStatus("users.tests.TestUserViews.test_logout", StatusFailed)
	store.SetStatus("orders.tests.TestOrders.test_create", StatusSkipped)

	prev := store.StatusesUnder("users.tests.TestUserViews")
	store.ResetSubtree("users.tests.TestUserViews")
	store.RestoreStatuses("users.tests.TestUserViews", prev)

	tests := []struct {
		id   string
		want Status
	}{
		{"users.tests.TestUserViews.test_login", StatusPassed},
		{"users.tests.TestUserViews.test_logout", StatusFailed},
		{"orders.tests.TestOrders.test_create", StatusSkipped},
	}
	for _, tt := range tests {
		rec, ok := store.Get(tt.id)
		if !ok {
			t.Fatalf("missing record %s", tt.id)
		}
		if rec.Status != tt.want {
			t.Errorf("%s = %v, want %v", tt.id, rec.Status, tt.want)
		}
	}

	// The reset created a record for the target itself; the rewind removes
	// records the snapshot does not mention.
	if _, ok := store.Get("users.tests.TestUserViews"); ok {
		t.Error("target record created by the reset survived the rewind")
	}
}

func TestResetSubtreeEmptyTargetResetsEverything(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("a.b.c", StatusPassed)
	store.SetStatus("x.y.z", StatusFailed)

	store.ResetSubtree("")

	for _, id := range []string{"a.b.c", "x.y.z"} {
		rec, _ := store.Get(id)
		if rec.Status != StatusPending {
			t.Errorf("%s = %v, want pending", id, rec.Status)
		}
	}
}

func TestResetSubtreeDoesNotMatchNamePrefixes(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("users.tests.TestUser", StatusPassed)
	store.SetStatus("users.tests.TestUserViews", StatusPassed)

	store.ResetSubtree("users.tests.TestUser")

	rec, _ := store.Get("users.tests.TestUserViews")
	if rec.Status != StatusPassed {
		t.Errorf("sibling with shared name prefix was reset")
	}
}

func TestPendingUnder(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("a.b.one", StatusPending)
	store.SetStatus("a.b.two", StatusPassed)
	store.SetStatus("a.c.three", StatusPending)

	got := store.PendingUnder("a.b")
	if len(got) != 1 || got[0] != "a.b.one" {
		t.Errorf("PendingUnder(a.b) = %v", got)
	}
	if got := store.PendingUnder(""); len(got) != 2 {
		t.Errorf("PendingUnder(\"\") = %v", got)
	}
}

func TestFailureDetail(t *testing.T) {
	store := NewStore(nil)
	store.SetFailure("a.b.c", "AssertionError: 1 != 2", &Diff{Expected: "2", Actual: "1"})

	rec, _ := store.Get("a.b.c")
	if rec.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", rec.Status)
	}
	if rec.LastFailureMessage != "AssertionError: 1 != 2" {
		t.Errorf("message = %q", rec.LastFailureMessage)
	}
	if rec.LastDiff == nil || rec.LastDiff.Expected != "2" || rec.LastDiff.Actual != "1" {
		t.Errorf("diff = %+v", rec.LastDiff)
	}
}

func TestClearRemovesEverything(t *testing.T) {
	store := NewStore(nil)
	store.SetStatus("a.b.c", StatusPassed)
	store.Clear()
	if _, ok := store.Get("a.b.c"); ok {
		t.Error("record survived Clear")
	}
}

func TestDebouncedNotification(t *testing.T) {
	store := NewStore(nil)
	var fired int32
	store.Subscribe(func() { atomic.AddInt32(&fired, 1) })

	// A burst of writes inside one debounce window collapses into a
	// single notification.
	for i := 0; i < 50; i++ {
		store.SetStatus("a.b.c", StatusRunning)
	}
	time.Sleep(3 * notifyDebounce)

	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("notifications = %d, want 1", got)
	}
}

func TestFlushNotificationsIsImmediate(t *testing.T) {
	store := NewStore(nil)
	var fired int32
	store.Subscribe(func() { atomic.AddInt32(&fired, 1) })

	store.FlushNotifications()
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("forced flush did not fire synchronously, notifications = %d", got)
	}
}

func TestDurationRecording(t *testing.T) {
	store := NewStore(nil)
	store.SetDuration("a.b.c", 125*time.Millisecond)
	rec, _ := store.Get("a.b.c")
	if !rec.HasDuration || rec.LastDuration != 125*time.Millisecond {
		t.Errorf("duration = %v (has=%v)", rec.LastDuration, rec.HasDuration)
	}
}
