// Package luasig exposes the signal API to gopher-lua scripts.
//
// All deliveries are routed through a sched.Loop, and the LState must be
// driven from that same loop (run the script as a loop task). gopher-lua's
// LState is not goroutine-safe, so callbacks can never be invoked from
// arbitrary goroutines; pinning both the script and every delivery to the
// loop's owner goroutine keeps the state single-threaded.
//
// Lua surface:
//
//	local signal = require("signal")
//	local s = signal.new("damage")
//	local conn = s:Connect(function(amount) print("took", amount) end)
//	s:Fire(10)
//	conn:Disconnect()
package luasig

import (
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/dshills/sigkit/sched"
	"github.com/dshills/sigkit/signal"
)

const (
	signalTypeName     = "sigkit.signal"
	connectionTypeName = "sigkit.connection"
)

// Payload is what a Lua-facing signal carries: the values passed to Fire.
type Payload []lua.LValue

// Module binds signals to one LState and its owning loop.
type Module struct {
	loop *sched.Loop
	log  *zap.Logger

	// handlers pins Lua functions for live connections and backs
	// IsConnected's identity check.
	mu       sync.Mutex
	handlers map[string]*handlerEntry
}

type handlerEntry struct {
	sig  *signal.Signal[Payload]
	conn *signal.Connection[Payload]
	fn   *lua.LFunction
}

// Option configures a Module.
type Option func(*Module)

// WithLogger sets the logger for signals created from Lua.
func WithLogger(log *zap.Logger) Option {
	return func(m *Module) {
		if log != nil {
			m.log = log
		}
	}
}

// New creates a module whose signals deliver on loop.
func New(loop *sched.Loop, opts ...Option) *Module {
	m := &Module{
		loop:     loop,
		log:      zap.NewNop(),
		handlers: make(map[string]*handlerEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Preload registers the module under the name "signal" so scripts can
// require it.
func (m *Module) Preload(L *lua.LState) {
	L.PreloadModule("signal", m.loader)
}

// Cleanup disconnects every connection created through this module and
// releases the pinned Lua functions. Call when tearing down the LState.
func (m *Module) Cleanup() {
	m.mu.Lock()
	entries := m.handlers
	m.handlers = make(map[string]*handlerEntry)
	m.mu.Unlock()

	for _, e := range entries {
		e.conn.Disconnect()
	}
}

// loader builds the module table and metatables.
func (m *Module) loader(L *lua.LState) int {
	sigMT := L.NewTypeMetatable(signalTypeName)
	L.SetField(sigMT, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"Connect":          m.luaConnect,
		"Once":             m.luaOnce,
		"Fire":             m.luaFire,
		"FireDeferred":     m.luaFireDeferred,
		"DisconnectAll":    m.luaDisconnectAll,
		"GetListenerCount": m.luaListenerCount,
		"IsConnected":      m.luaIsConnected,
	}))

	connMT := L.NewTypeMetatable(connectionTypeName)
	L.SetField(connMT, "__index", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"Disconnect": m.luaDisconnect,
		"Connected":  m.luaConnected,
	}))

	mod := L.NewTable()
	L.SetField(mod, "new", L.NewFunction(m.luaNew))
	L.Push(mod)
	return 1
}

// luaNew implements signal.new([name]).
func (m *Module) luaNew(L *lua.LState) int {
	name := L.OptString(1, "lua")

	s := signal.New[Payload](
		signal.WithName(name),
		signal.WithScheduler(m.loop),
		signal.WithLogger(m.log),
	)

	ud := L.NewUserData()
	ud.Value = s
	L.SetMetatable(ud, L.GetTypeMetatable(signalTypeName))
	L.Push(ud)
	return 1
}

func (m *Module) checkSignal(L *lua.LState) *signal.Signal[Payload] {
	ud := L.CheckUserData(1)
	if s, ok := ud.Value.(*signal.Signal[Payload]); ok {
		return s
	}
	L.ArgError(1, "signal expected")
	return nil
}

func (m *Module) checkConnection(L *lua.LState) *signal.Connection[Payload] {
	ud := L.CheckUserData(1)
	if c, ok := ud.Value.(*signal.Connection[Payload]); ok {
		return c
	}
	L.ArgError(1, "connection expected")
	return nil
}

// connect is the shared body of Connect and Once.
func (m *Module) connect(L *lua.LState, once bool) int {
	s := m.checkSignal(L)
	fn := L.CheckFunction(2)

	// Deliveries run on the loop goroutine that owns L, so calling into
	// the state here is safe.
	call := func(args Payload) {
		largs := make([]lua.LValue, len(args))
		copy(largs, args)
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, largs...)
		if err != nil {
			m.log.Error("lua listener error", zap.Error(err))
		}
	}

	var conn *signal.Connection[Payload]
	if once {
		conn = s.Once(call)
	} else {
		conn = s.Connect(call)
	}

	m.mu.Lock()
	m.handlers[conn.ID()] = &handlerEntry{sig: s, conn: conn, fn: fn}
	m.mu.Unlock()

	ud := L.NewUserData()
	ud.Value = conn
	L.SetMetatable(ud, L.GetTypeMetatable(connectionTypeName))
	L.Push(ud)
	return 1
}

// luaConnect implements s:Connect(fn).
func (m *Module) luaConnect(L *lua.LState) int {
	return m.connect(L, false)
}

// luaOnce implements s:Once(fn).
func (m *Module) luaOnce(L *lua.LState) int {
	return m.connect(L, true)
}

// fireArgs collects the values after the receiver into a payload.
func fireArgs(L *lua.LState) Payload {
	top := L.GetTop()
	args := make(Payload, 0, top-1)
	for i := 2; i <= top; i++ {
		args = append(args, L.Get(i))
	}
	return args
}

// luaFire implements s:Fire(...).
func (m *Module) luaFire(L *lua.LState) int {
	s := m.checkSignal(L)
	s.Fire(fireArgs(L))
	return 0
}

// luaFireDeferred implements s:FireDeferred(...).
func (m *Module) luaFireDeferred(L *lua.LState) int {
	s := m.checkSignal(L)
	s.FireDeferred(fireArgs(L))
	return 0
}

// luaDisconnectAll implements s:DisconnectAll().
func (m *Module) luaDisconnectAll(L *lua.LState) int {
	s := m.checkSignal(L)
	s.DisconnectAll()
	m.releaseSignal(s)
	return 0
}

// luaListenerCount implements s:GetListenerCount().
func (m *Module) luaListenerCount(L *lua.LState) int {
	s := m.checkSignal(L)
	L.Push(lua.LNumber(s.ListenerCount()))
	return 1
}

// luaIsConnected implements s:IsConnected(fn): true iff some live
// connection on this signal was created for exactly this function value.
func (m *Module) luaIsConnected(L *lua.LState) int {
	s := m.checkSignal(L)
	fn := L.CheckFunction(2)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.handlers {
		if e.sig == s && e.fn == fn && e.conn.Connected() {
			L.Push(lua.LTrue)
			return 1
		}
	}
	L.Push(lua.LFalse)
	return 1
}

// luaDisconnect implements conn:Disconnect().
func (m *Module) luaDisconnect(L *lua.LState) int {
	c := m.checkConnection(L)
	c.Disconnect()

	m.mu.Lock()
	delete(m.handlers, c.ID())
	m.mu.Unlock()
	return 0
}

// luaConnected implements conn:Connected().
func (m *Module) luaConnected(L *lua.LState) int {
	c := m.checkConnection(L)
	L.Push(lua.LBool(c.Connected()))
	return 1
}

// releaseSignal drops every handler entry belonging to s.
func (m *Module) releaseSignal(s *signal.Signal[Payload]) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.handlers {
		if e.sig == s {
			delete(m.handlers, id)
		}
	}
}
