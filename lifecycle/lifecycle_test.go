package lifecycle

import (
	"errors"
	"testing"
)

func TestToken_RunReverseOrder(t *testing.T) {
	tok := NewToken()

	var order []int
	tok.Append(func() { order = append(order, 1) })
	tok.Append(func() { order = append(order, 2) })
	tok.Append(func() { order = append(order, 3) })

	if n := tok.Len(); n != 3 {
		t.Fatalf("Len() = %d, want 3", n)
	}

	if err := tok.Run(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	want := []int{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("ran %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("cleanup %d = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestToken_RunIdempotent(t *testing.T) {
	tok := NewToken()

	calls := 0
	tok.Append(func() { calls++ })

	if err := tok.Run(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if err := tok.Run(); err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}

	if calls != 1 {
		t.Errorf("cleanup ran %d times, want 1", calls)
	}
	if n := tok.Len(); n != 0 {
		t.Errorf("Len() = %d after Run, want 0", n)
	}
}

func TestToken_RunCollectsErrors(t *testing.T) {
	tok := NewToken()

	errA := errors.New("close a")
	errB := errors.New("close b")
	tok.AppendError(func() error { return errA })
	tok.Append(func() {})
	tok.AppendError(func() error { return errB })

	err := tok.Run()
	if err == nil {
		t.Fatal("Run() = nil, want combined errors")
	}
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Run() = %v, want both %v and %v", err, errA, errB)
	}
}

func TestToken_AppendAfterRun(t *testing.T) {
	tok := NewToken()
	if err := tok.Run(); err != nil {
		t.Fatalf("Run() failed: %v", err)
	}

	calls := 0
	tok.Append(func() { calls++ })

	if calls != 1 {
		t.Errorf("late cleanup ran %d times, want 1 (immediate)", calls)
	}
}

func TestObject_Destroy(t *testing.T) {
	obj := NewObject()

	if !obj.Alive() {
		t.Fatal("Alive() = false for a fresh object")
	}

	notified := 0
	obj.OnDestroyed(func() { notified++ })

	obj.Destroy()
	obj.Destroy()
	obj.Destroy()

	if obj.Alive() {
		t.Error("Alive() = true after Destroy")
	}
	if notified != 1 {
		t.Errorf("watcher notified %d times, want 1", notified)
	}
}

func TestObject_OnDestroyedAfterDeath(t *testing.T) {
	obj := NewObject()
	obj.Destroy()

	ran := false
	cancel := obj.OnDestroyed(func() { ran = true })

	if !ran {
		t.Error("watcher on a dead object did not run immediately")
	}
	if cancel() {
		t.Error("cancel() = true for an already-run watcher")
	}
}

func TestObject_CancelWatcher(t *testing.T) {
	obj := NewObject()

	ran := false
	cancel := obj.OnDestroyed(func() { ran = true })

	if !cancel() {
		t.Fatal("cancel() = false for a pending watcher")
	}
	if cancel() {
		t.Error("cancel() = true on second call")
	}

	obj.Destroy()
	if ran {
		t.Error("cancelled watcher ran")
	}
}
