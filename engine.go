package yydb

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

type Options struct {
	// Sink receives the engine's and the core's diagnostics. Nil discards.
	Sink logbridge.Sink

	// LogLevel filters messages before they reach the bridge. Default info.
	LogLevel slog.Leveler

	// MaxShares caps the number of tables open at once; 0 means unlimited.
	MaxShares int
}

type engineState int

const (
	stateNew engineState = iota
	stateReady
	stateDown
)

// Engine owns everything a handler needs: the core, the log bridge, the
// share cache and the status counters. One Engine per loaded plugin.
type Engine struct {
	core   core.Core
	sink   logbridge.Sink
	bridge *logbridge.Bridge
	logger *slog.Logger
	shares *shareCache

	mu    sync.Mutex
	state engineState

	counters counters
}

func New(c core.Core, opt Options) *Engine {
	if opt.Sink == nil {
		opt.Sink = logbridge.Discard
	}
	if opt.LogLevel == nil {
		opt.LogLevel = slog.LevelInfo
	}
	bridge := logbridge.New()
	return &Engine{
		core:   c,
		sink:   opt.Sink,
		bridge: bridge,
		logger: slog.New(logbridge.NewHandler(bridge, &logbridge.HandlerOptions{Level: opt.LogLevel})),
		shares: newShareCache(opt.MaxShares),
	}
}

func (e *Engine) Core() core.Core {
	return e.core
}

func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

func (e *Engine) Bridge() *logbridge.Bridge {
	return e.bridge
}

// Init wires the sink, then initializes the core. No handler may be created
// before it succeeds. Calling it again on a ready engine does nothing.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateReady {
		return nil
	}

	e.bridge.SetSink(e.sink)
	e.logger.Info("Initializing YYDB storage engine...")

	if err := e.core.Init(core.Env{Logger: e.logger}); err != nil {
		e.logger.Error("core initialization failed", "err", err)
		e.bridge.Release()
		return fmt.Errorf("yydb: init: %w", err)
	}

	e.state = stateReady
	e.logger.Info("YYDB Initialized.")
	return nil
}

// Deinit tears down the core, then releases the sink. Failures are logged and
// returned, but teardown always runs to the end.
func (e *Engine) Deinit() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateReady {
		return nil
	}
	e.logger.Info("Deinitializing YYDB storage engine...")

	var result error
	if n := e.counters.openHandlers.Load(); n > 0 {
		err := fmt.Errorf("%d handlers still open", n)
		e.logger.Warn("deinit with open handlers", "err", err)
		result = multierror.Append(result, err)
	}
	if err := e.core.Deinit(); err != nil {
		e.logger.Error("core deinitialization failed", "err", err)
		result = multierror.Append(result, err)
	}
	e.state = stateDown
	e.logger.Info("YYDB Deinitialized.")
	e.bridge.Release()

	if result != nil {
		return fmt.Errorf("yydb: deinit: %w", result)
	}
	return nil
}

func (e *Engine) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateReady
}

// NewHandler creates a handler for one session.
func (e *Engine) NewHandler() (*Handler, error) {
	if !e.ready() {
		return nil, ErrNotInitialized
	}
	return &Handler{
		e:    e,
		lock: lockData{typ: LockUnlock, held: LockUnlock},
	}, nil
}

// Share returns the shared state of an open table, or nil.
func (e *Engine) Share(name string) *Share {
	return e.shares.lookup(name)
}
