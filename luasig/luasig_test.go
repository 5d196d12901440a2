package luasig

import (
	"context"
	"testing"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/sigkit/sched"
)

// runScript executes src as a loop task so the LState and every signal
// delivery share one goroutine, then drains the loop. The LState is safe
// to inspect once runScript returns.
func runScript(t *testing.T, src string) *lua.LState {
	t.Helper()

	loop := sched.NewLoop()
	if err := loop.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	L := lua.NewState()
	t.Cleanup(L.Close)

	mod := New(loop)
	t.Cleanup(mod.Cleanup)
	mod.Preload(L)

	errc := make(chan error, 1)
	loop.Spawn(func() {
		errc <- L.DoString(src)
	})

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("script failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("script timed out")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := loop.Stop(ctx); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}

	return L
}

func globalNumber(t *testing.T, L *lua.LState, name string) float64 {
	t.Helper()
	v := L.GetGlobal(name)
	n, ok := v.(lua.LNumber)
	if !ok {
		t.Fatalf("global %s = %v (%T), want number", name, v, v)
	}
	return float64(n)
}

func TestLua_ConnectAndFire(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new("test")

		total = 0
		s:Connect(function(amount) total = total + amount end)

		s:Fire(2)
		s:Fire(3)
	`)

	if got := globalNumber(t, L, "total"); got != 5 {
		t.Errorf("total = %v, want 5", got)
	}
}

func TestLua_MultipleListenersAndCount(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		hits = 0
		s:Connect(function() hits = hits + 1 end)
		s:Connect(function() hits = hits + 1 end)
		listeners = s:GetListenerCount()

		s:Fire()
	`)

	if got := globalNumber(t, L, "listeners"); got != 2 {
		t.Errorf("listeners = %v, want 2", got)
	}
	if got := globalNumber(t, L, "hits"); got != 2 {
		t.Errorf("hits = %v, want 2", got)
	}
}

func TestLua_Once(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		calls = 0
		s:Once(function() calls = calls + 1 end)

		s:Fire()
		s:Fire()
		s:Fire()
	`)

	if got := globalNumber(t, L, "calls"); got != 1 {
		t.Errorf("calls = %v, want 1", got)
	}
}

func TestLua_Disconnect(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		calls = 0
		local conn = s:Connect(function() calls = calls + 1 end)

		was_connected = conn:Connected() and 1 or 0
		conn:Disconnect()
		still_connected = conn:Connected() and 1 or 0
		remaining = s:GetListenerCount()

		s:Fire()
	`)

	if got := globalNumber(t, L, "was_connected"); got != 1 {
		t.Error("connection not connected after Connect")
	}
	if got := globalNumber(t, L, "still_connected"); got != 0 {
		t.Error("connection still connected after Disconnect")
	}
	if got := globalNumber(t, L, "remaining"); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
	if got := globalNumber(t, L, "calls"); got != 0 {
		t.Errorf("calls = %v, want 0", got)
	}
}

func TestLua_IsConnected(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		local handler = function() end
		local other = function() end

		s:Connect(handler)
		connected = s:IsConnected(handler) and 1 or 0
		not_connected = s:IsConnected(other) and 1 or 0
	`)

	if got := globalNumber(t, L, "connected"); got != 1 {
		t.Error("IsConnected() = false for a connected handler")
	}
	if got := globalNumber(t, L, "not_connected"); got != 0 {
		t.Error("IsConnected() = true for a never-connected handler")
	}
}

func TestLua_DisconnectAll(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		calls = 0
		s:Connect(function() calls = calls + 1 end)
		s:Connect(function() calls = calls + 1 end)

		s:DisconnectAll()
		remaining = s:GetListenerCount()

		s:Fire()
	`)

	if got := globalNumber(t, L, "remaining"); got != 0 {
		t.Errorf("remaining = %v, want 0", got)
	}
	if got := globalNumber(t, L, "calls"); got != 0 {
		t.Errorf("calls = %v, want 0", got)
	}
}

func TestLua_FireDeferred(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		got = 0
		s:Connect(function(v) got = v end)

		s:FireDeferred(42)
	`)

	if got := globalNumber(t, L, "got"); got != 42 {
		t.Errorf("got = %v, want 42", got)
	}
}

func TestLua_MultipleFireArguments(t *testing.T) {
	L := runScript(t, `
		local signal = require("signal")
		local s = signal.new()

		sum = 0
		s:Connect(function(a, b, c) sum = a + b + c end)

		s:Fire(1, 2, 3)
	`)

	if got := globalNumber(t, L, "sum"); got != 6 {
		t.Errorf("sum = %v, want 6", got)
	}
}
