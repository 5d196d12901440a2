// Package signal provides a typed in-process publish/subscribe primitive.
//
// A Signal is an event channel with many independent listeners. Producers
// fire payloads at it; consumers connect callbacks and receive every fire
// that happens while they are connected. Neither side knows about the other.
//
// # Quick start
//
//	s := signal.New[int]()
//
//	conn := s.Connect(func(v int) {
//	    fmt.Println("got", v)
//	})
//	defer conn.Disconnect()
//
//	s.Fire(42)
//
// # Firing modes
//
// Fire schedules each live listener as an independent unit of work and
// returns without blocking. FireDeferred postpones the whole dispatch until
// the current unit yields. FireAsync moves even the registry traversal off
// the caller. FireBatched dispatches a sequence of payloads strictly in
// order, each as an independent fire. FireWithMiddleware routes every
// delivery through the signal's active middleware pipeline.
//
// # Middleware
//
// Use installs an ordered pipeline of interception stages. Each stage
// receives the payload and a next continuation; not calling next drops the
// event for that listener. Built-in stages cover filtering, mapping,
// throttling, debouncing, delaying, logging, panic catching, and
// cancellation. A Use call replaces the previous pipeline wholesale; to
// stack stages, pass them to a single Use call.
//
//	h := s.Use(
//	    signal.Filter(func(v int) bool { return v > 0 }),
//	    signal.Map(func(v int) int { return v * 2 }),
//	)
//	defer h.Disconnect()
//
// # Scheduling
//
// Signals never start goroutines directly; they hand units of work to a
// sched.Scheduler. The default is sched.NewAsync (goroutine per unit).
// Pass a sched.Loop to pin every delivery to one owner goroutine, or a
// sched.Sync to run listeners inline.
//
// # Concurrency
//
// Within one fire, listeners are visited newest-connection-first, but once
// scheduled they may complete in any order. Dispatch walks a snapshot of
// the registry taken at fire start; a disconnect that lands before the walk
// reaches a connection suppresses that delivery, while already-scheduled
// units are not retracted.
package signal
