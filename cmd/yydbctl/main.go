// Command yydbctl drives a YYDB engine the way the SQL layer would: it opens
// handlers, writes and scans rows, and runs concurrent sessions against one
// engine.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/syncs"
	"github.com/jessevdk/go-flags"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/natefinch/atomic"

	"github.com/andreyvit/yydb"
	"github.com/andreyvit/yydb/core"
	"github.com/andreyvit/yydb/logbridge"
)

type options struct {
	Config   string `short:"c" long:"config" env:"YYDB_CONFIG" description:"config file (JSON with comments)" default:"yydb.jsonc"`
	Backend  string `short:"b" long:"backend" description:"storage core" choice:"reference" choice:"memory" choice:"bolt"`
	DataDir  string `short:"d" long:"data-dir" description:"data directory for the bolt core"`
	LogLevel string `short:"l" long:"log-level" description:"error, warn, info, debug or trace"`
	Lgr      bool   `long:"lgr" description:"log through lgr instead of slog"`

	InitConfig initConfigCmd `command:"init-config" description:"write a starting config file"`
	Insert     insertCmd     `command:"insert" description:"insert rows into a table"`
	Scan       scanCmd       `command:"scan" description:"print every row of a table"`
	Delete     deleteCmd     `command:"delete" description:"delete rows matching the given images"`
	Truncate   tableCmd      `command:"truncate" description:"delete every row of a table"`
	Drop       tableCmd      `command:"drop" description:"drop a table"`
	Stress     stressCmd     `command:"stress" description:"run concurrent sessions against one table"`
	Stats      tableCmd      `command:"stats" description:"print row count and engine status variables"`
}

type initConfigCmd struct {
	Force bool `short:"f" long:"force" description:"overwrite an existing file"`
}

type tableCmd struct {
	Table string `short:"t" long:"table" description:"table name" required:"true"`
}

type rowsArgs struct {
	Rows []string `positional-arg-name:"row" required:"1"`
}

type insertCmd struct {
	tableCmd
	Hex  bool     `long:"hex" description:"rows are hex-encoded"`
	Args rowsArgs `positional-args:"yes" required:"yes"`
}

type deleteCmd struct {
	tableCmd
	Hex  bool     `long:"hex" description:"rows are hex-encoded"`
	Args rowsArgs `positional-args:"yes" required:"yes"`
}

type scanCmd struct {
	tableCmd
	Hex     bool `long:"hex" description:"print rows as hex dumps"`
	BufSize int  `long:"buf" description:"initial row buffer size" default:"64"`
}

type stressCmd struct {
	tableCmd
	Sessions    int `short:"s" long:"sessions" description:"number of sessions" default:"8"`
	Rows        int `short:"r" long:"rows" description:"rows written by each session" default:"100"`
	Concurrency int `short:"n" long:"concurrency" description:"sessions running at once" default:"4"`
}

func main() {
	var opts options
	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		var fe *flags.Error
		if errors.As(err, &fe) && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts, p.Active.Name, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "yydbctl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, cmd string, out io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if cmd == "init-config" {
		return initConfig(opts.Config, cfg, opts.InitConfig.Force, out)
	}

	e, err := yydb.Open(cfg, makeSink(opts.Lgr))
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Deinit(); err != nil {
			fmt.Fprintf(os.Stderr, "yydbctl: %v\n", err)
		}
	}()

	switch cmd {
	case "insert":
		return insert(e, opts.Insert, out)
	case "scan":
		return scan(e, opts.Scan, out)
	case "delete":
		return deleteRows(e, opts.Delete, out)
	case "truncate":
		return withHandler(e, opts.Truncate.Table, func(h *yydb.Handler) error {
			return h.DeleteAllRows()
		})
	case "drop":
		return withEngineHandler(e, func(h *yydb.Handler) error {
			return h.DeleteTable(opts.Drop.Table)
		})
	case "stress":
		return stress(ctx, e, opts.Stress, out)
	case "stats":
		return stats(e, opts.Stats.Table, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func loadConfig(opts options) (yydb.Config, error) {
	cfg, err := yydb.LoadConfig(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	return cfg, cfg.Validate()
}

func initConfig(path string, cfg yydb.Config, force bool, out io.Writer) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists, use --force to overwrite", path)
		}
	}
	if err := atomic.WriteFile(path, bytes.NewReader(cfg.Marshal())); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(out, "wrote %s\n", path)
	return nil
}

// makeSink returns where the engine's log lines end up. Level filtering
// happens in the engine, so the sink passes everything through.
func makeSink(useLgr bool) logbridge.Sink {
	if useLgr {
		colorizer := lgr.Mapper{
			ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
			WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
			InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
			DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
			CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
			TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
		}
		return logbridge.LgrSink(lgr.New(lgr.Debug, lgr.Msec, lgr.LevelBraces,
			lgr.Out(os.Stderr), lgr.Err(os.Stderr), lgr.Map(colorizer)))
	}
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      logbridge.SlogLevelTrace,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	return logbridge.SlogSink(logger)
}

func decodeRows(rows []string, isHex bool) ([][]byte, error) {
	result := make([][]byte, 0, len(rows))
	for _, s := range rows {
		if !isHex {
			result = append(result, []byte(s))
			continue
		}
		row, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("row %q: %w", s, err)
		}
		result = append(result, row)
	}
	return result, nil
}

func withHandler(e *yydb.Engine, table string, f func(h *yydb.Handler) error) error {
	return withEngineHandler(e, func(h *yydb.Handler) error {
		if err := h.Open(table); err != nil {
			return err
		}
		defer h.Close()
		return f(h)
	})
}

func withEngineHandler(e *yydb.Engine, f func(h *yydb.Handler) error) error {
	h, err := e.NewHandler()
	if err != nil {
		return err
	}
	return f(h)
}

func insert(e *yydb.Engine, c insertCmd, out io.Writer) error {
	rows, err := decodeRows(c.Args.Rows, c.Hex)
	if err != nil {
		return err
	}
	return withHandler(e, c.Table, func(h *yydb.Handler) error {
		for _, row := range rows {
			if err := h.WriteRow(row); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "inserted %d rows into %s\n", len(rows), c.Table)
		return nil
	})
}

func deleteRows(e *yydb.Engine, c deleteCmd, out io.Writer) error {
	rows, err := decodeRows(c.Args.Rows, c.Hex)
	if err != nil {
		return err
	}
	return withHandler(e, c.Table, func(h *yydb.Handler) error {
		var n int
		for _, row := range rows {
			err := h.DeleteRow(row)
			if errors.Is(err, yydb.ErrRowNotFound) {
				continue
			} else if err != nil {
				return err
			}
			n++
		}
		fmt.Fprintf(out, "deleted %d rows from %s\n", n, c.Table)
		return nil
	})
}

func scan(e *yydb.Engine, c scanCmd, out io.Writer) error {
	bufSize := max(c.BufSize, 1)
	return withHandler(e, c.Table, func(h *yydb.Handler) error {
		if err := h.RndInit(true); err != nil {
			return err
		}
		defer h.RndEnd()

		buf := make([]byte, bufSize)
		var count int
		for {
			n, err := h.RndNext(buf)
			var rse *core.RowSizeError
			if errors.Is(err, yydb.ErrEndOfData) {
				break
			} else if errors.As(err, &rse) {
				buf = make([]byte, rse.Need)
				continue
			} else if err != nil {
				return err
			}
			count++
			if c.Hex {
				fmt.Fprintf(out, "row %d, %d bytes:\n%v", count, n, core.HexView(buf[:n]))
			} else {
				fmt.Fprintf(out, "%q\n", buf[:n])
			}
		}
		fmt.Fprintf(out, "%d rows\n", count)
		return nil
	})
}

func stress(ctx context.Context, e *yydb.Engine, c stressCmd, out io.Writer) error {
	wg := syncs.NewErrSizedGroup(max(c.Concurrency, 1), syncs.Context(ctx), syncs.Preemptive)
	for i := range c.Sessions {
		wg.Go(func() error {
			return withHandler(e, c.Table, func(h *yydb.Handler) error {
				h.StoreLock(yydb.LockWriteConcurrentInsert)
				if err := h.ExternalLock(ctx, yydb.LockWriteConcurrentInsert); err != nil {
					return err
				}
				defer h.ExternalLock(ctx, yydb.LockUnlock)

				for j := range c.Rows {
					row := fmt.Appendf(nil, "session-%d-row-%d", i, j)
					if err := h.WriteRow(row); err != nil {
						return fmt.Errorf("session %d: %w", i, err)
					}
				}
				return nil
			})
		})
	}
	if err := wg.Wait(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%d sessions wrote %d rows each into %s\n", c.Sessions, c.Rows, c.Table)
	return printStats(e.Stats(), out)
}

func stats(e *yydb.Engine, table string, out io.Writer) error {
	err := withHandler(e, table, func(h *yydb.Handler) error {
		if err := h.Info(0); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %d rows\n", table, h.TableInfo().Records)
		if b, ok := e.Core().(*core.Bolt); ok {
			fmt.Fprintf(out, "data file: %d bytes\n", b.Size())
		}
		return nil
	})
	if err != nil {
		return err
	}
	return printStats(e.Stats(), out)
}

func printStats(st yydb.Stats, out io.Writer) error {
	heading := color.New(color.FgCyan, color.Bold)
	heading.Fprintln(out, "handlers")
	fmt.Fprintf(out, "  open=%d opens=%d creates=%d closes=%d\n", st.OpenHandlers, st.Opens, st.Creates, st.Closes)
	heading.Fprintln(out, "rows")
	fmt.Fprintf(out, "  writes=%d updates=%d deletes=%d read_rnd_next=%d unsupported=%d\n",
		st.Writes, st.Updates, st.Deletes, st.ReadRndNext, st.Unsupported)
	heading.Fprintln(out, "shares")
	fmt.Fprintf(out, "  live=%d created=%d tables=%d\n", st.Shares, st.SharesCreated, st.Tables)
	heading.Fprintln(out, "log")
	_, err := fmt.Fprintf(out, "  inline=%d heap_acquired=%d heap_released=%d sink_failures=%d dropped=%d\n",
		st.Log.Inline, st.Log.HeapAcquired, st.Log.HeapReleased, st.Log.SinkFailures, st.Log.Dropped)
	return err
}
