package signal

import (
	"context"
	"testing"
	"time"

	"github.com/dshills/sigkit/lifecycle"
)

func contextWithTimeout(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 2*time.Second)
}

func TestOnce_SingleDelivery(t *testing.T) {
	s := syncSignal[int]()

	var got []int
	c := s.Once(func(v int) { got = append(got, v) })

	s.Fire(1)
	s.Fire(2)
	s.Fire(3)

	if len(got) != 1 || got[0] != 1 {
		t.Errorf("once listener received %v, want [1]", got)
	}
	if c.Connected() {
		t.Error("once connection still connected after first delivery")
	}
	if n := s.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d, want 0", n)
	}
}

func TestOnce_DisconnectsBeforeCallback(t *testing.T) {
	s := syncSignal[int]()

	var c *Connection[int]
	c = s.Once(func(int) {
		if c.Connected() {
			t.Error("connection still connected inside once callback")
		}
	})

	s.Fire(1)
}

func TestOnce_StackedDeliveriesClaimOnce(t *testing.T) {
	q := &queueSched{}
	s := New[int](WithScheduler(q))

	var got []int
	s.Once(func(v int) { got = append(got, v) })

	// Both fires queue a unit for the connection before either runs; the
	// claim must let exactly one of them through.
	s.Fire(1)
	s.Fire(2)
	q.flush()

	if len(got) != 1 {
		t.Fatalf("once listener received %v, want exactly one delivery", got)
	}
	if n := s.ListenerCount(); n != 0 {
		t.Errorf("ListenerCount() = %d, want 0", n)
	}
}

func TestUntil_FirstQualifyingDelivery(t *testing.T) {
	s := syncSignal[int]()

	var got []int
	c := s.Until(func(v int) bool { return v > 0 }, func(v int) { got = append(got, v) })

	s.Fire(-1) // predicate false: no delivery, still connected
	if !c.Connected() {
		t.Fatal("connection dropped on a non-qualifying delivery")
	}

	s.Fire(7) // first true: delivered, then disconnected
	s.Fire(9) // true again: must not reach the callback

	if len(got) != 1 || got[0] != 7 {
		t.Errorf("until listener received %v, want [7]", got)
	}
	if c.Connected() {
		t.Error("connection still connected after qualifying delivery")
	}
}

func TestUntil_StackedQualifyingDeliveriesClaimOnce(t *testing.T) {
	q := &queueSched{}
	s := New[int](WithScheduler(q))

	var got []int
	s.Until(func(v int) bool { return v > 0 }, func(v int) { got = append(got, v) })

	s.Fire(5)
	s.Fire(6)
	q.flush()

	if len(got) != 1 {
		t.Fatalf("until listener received %v, want exactly one delivery", got)
	}
}

func TestWhileActive_GatesWithoutDisconnecting(t *testing.T) {
	s := syncSignal[int]()

	active := true
	var got []int
	c := s.WhileActive(func() bool { return active }, func(v int) { got = append(got, v) })

	s.Fire(1)
	active = false
	s.Fire(2)
	active = true
	s.Fire(3)

	want := []int{1, 3}
	if len(got) != len(want) {
		t.Fatalf("received %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delivery %d = %d, want %d", i, got[i], want[i])
		}
	}
	if !c.Connected() {
		t.Error("WhileActive connection was auto-disconnected")
	}
}

func TestConnection_DisconnectOnDestroy(t *testing.T) {
	s := syncSignal[int]()

	obj := lifecycle.NewObject()
	c := s.Connect(func(int) {}).DisconnectOnDestroy(obj)

	if !c.Connected() {
		t.Fatal("connection dropped while the lifetime is alive")
	}

	obj.Destroy()
	if c.Connected() {
		t.Error("connection survived the lifetime's destruction")
	}
}

func TestConnection_DisconnectOnDestroy_AlreadyDead(t *testing.T) {
	s := syncSignal[int]()

	obj := lifecycle.NewObject()
	obj.Destroy()

	c := s.Connect(func(int) {}).DisconnectOnDestroy(obj)
	if c.Connected() {
		t.Error("connection bound to a dead lifetime stayed connected")
	}
}

func TestConnection_UntilDestroyed(t *testing.T) {
	s := syncSignal[int]()

	token := lifecycle.NewToken()
	c1 := s.Connect(func(int) {})
	c2 := s.Connect(func(int) {})

	if err := c1.UntilDestroyed(token); err != nil {
		t.Fatalf("UntilDestroyed() failed: %v", err)
	}
	if err := c2.UntilDestroyed(token); err != nil {
		t.Fatalf("UntilDestroyed() failed: %v", err)
	}

	// The signal never triggers the token; its owner does.
	if c1.Connected() && c2.Connected() {
		if err := token.Run(); err != nil {
			t.Fatalf("Run() failed: %v", err)
		}
	}

	if c1.Connected() || c2.Connected() {
		t.Error("connections survived the cleanup token run")
	}
}

func TestConnection_UntilDestroyedNilRegistry(t *testing.T) {
	s := syncSignal[int]()
	c := s.Connect(func(int) {})

	if err := c.UntilDestroyed(nil); err != ErrNilRegistry {
		t.Errorf("UntilDestroyed(nil) = %v, want ErrNilRegistry", err)
	}
	if !c.Connected() {
		t.Error("invalid UntilDestroyed call disconnected the connection")
	}
}
