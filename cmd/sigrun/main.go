// Package main is the entry point for sigrun, a script runner that loads a
// Lua file with the signal module preloaded, executes it on a cooperative
// loop, and drains the loop before exiting.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/sigkit/luasig"
	"github.com/dshills/sigkit/sched"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var logLevel string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "Path to TOML configuration file")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("sigrun %s (%s)\n", version, commit)
		return 0
	}

	script := flag.Arg(0)
	if script == "" {
		fmt.Fprintln(os.Stderr, "Usage: sigrun [flags] <script.lua>")
		flag.PrintDefaults()
		return 2
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync() //nolint:errcheck // stderr sync failure is uninteresting

	loop := sched.NewLoop(sched.WithLoopPanicHandler(func(r any, stack []byte) {
		logger.Error("task panic", zap.Any("panic", r), zap.ByteString("stack", stack))
	}))
	if err := loop.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	L := lua.NewState()
	defer L.Close()

	mod := luasig.New(loop, luasig.WithLogger(logger))
	defer mod.Cleanup()
	mod.Preload(L)

	// The script runs as a loop task so it shares the loop goroutine
	// with every signal delivery; the LState is never touched from two
	// goroutines.
	scriptErr := make(chan error, 1)
	loop.Spawn(func() {
		scriptErr <- L.DoFile(script)
	})

	if err := <-scriptErr; err != nil {
		logger.Error("script failed", zap.String("script", script), zap.Error(err))
		stopLoop(loop, cfg, logger)
		return 1
	}

	stopLoop(loop, cfg, logger)
	logger.Debug("done", zap.Uint64("tasks", loop.Executed()))
	return 0
}

// stopLoop drains pending deliveries bounded by the configured timeout.
func stopLoop(loop *sched.Loop, cfg Config, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := loop.Stop(ctx); err != nil {
		logger.Warn("loop drain incomplete", zap.Error(err))
	}
}

// newLogger builds a console logger at the given level.
func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
