// sbcd is the SBC-side control daemon: it drives the SPI link to the
// firmware (C1/C2), schedules submitted codes (C3/C4), maintains the
// shared object model (C5), serves local IPC clients (C6), and
// reconciles host-level state into the model (C7).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rrf-io/sbcd/internal/config"
	"github.com/rrf-io/sbcd/internal/gcode"
	"github.com/rrf-io/sbcd/internal/hostinfo"
	"github.com/rrf-io/sbcd/internal/interp"
	"github.com/rrf-io/sbcd/internal/ipc"
	"github.com/rrf-io/sbcd/internal/model"
	"github.com/rrf-io/sbcd/internal/obslog"
	"github.com/rrf-io/sbcd/internal/protocol"
	"github.com/rrf-io/sbcd/internal/scheduler"
	"github.com/rrf-io/sbcd/internal/wire"
	"github.com/rrf-io/sbcd/internal/wire/spidev"
)

// transferBufferSize is the fixed SPI transfer buffer size (spec.md
// §4.1).
const transferBufferSize = 8192

func main() {
	load := config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	cfg, err := load()
	if err != nil {
		log.Fatalf("sbcd: loading configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.UpdateOnly {
		runUpdateOnly(ctx, cfg)
		return
	}

	if err := run(ctx, cfg); err != nil {
		obslog.Error().Printf("sbcd: %v", err)
		os.Exit(1)
	}
}

// runUpdateOnly drives just T3 against a standalone in-memory store,
// for a host with no board attached (SPEC_FULL.md "SUPPLEMENTED
// FEATURES").
func runUpdateOnly(ctx context.Context, cfg config.Config) {
	store := model.New(map[string]interface{}{})
	updater := hostinfo.NewUpdater(store, func(c *gcode.Code) error {
		obslog.Debug("hostinfo").Printf("dropping trigger code %s: no scheduler in update-only mode", c.String())
		return nil
	}, cfg.HostUpdateInterval, cfg.MaxMessageAge)

	updater.Run(ctx)
}

// run wires C1 through C7 together and blocks until ctx is canceled.
func run(ctx context.Context, cfg config.Config) error {
	dev, err := spidev.Open(spidev.Config{
		DevicePath:  cfg.SPIDevice,
		GPIOChip:    cfg.GPIOChip,
		GPIOLine:    uint32(cfg.GPIOLine),
		SpeedHz:     4_000_000,
		BitsPerWord: 8,
	})
	if err != nil {
		return fmt.Errorf("opening SPI device: %w", err)
	}
	defer dev.Close()

	conn := wire.NewConnection(dev, transferBufferSize, obslog.Debug("wire"))

	store := model.New(map[string]interface{}{})

	macroWatcher, err := interp.NewMacroWatcher(cfg.MacroDirectory, obslog.Debug("interp"))
	if err != nil {
		return fmt.Errorf("watching macro directory: %w", err)
	}
	go macroWatcher.Run(ctx)

	sched := scheduler.New(macroOpener(cfg, store, macroWatcher))
	machine := protocol.NewMachine(conn, transferBufferSize, sched, obslog.Debug("protocol"))

	if err := machine.Handshake(); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	ipcServer := &ipc.Server{
		Store:        store,
		PollInterval: cfg.SocketPollInterval,
		Dispatch:     dispatchFor(sched),
	}

	listener, err := listenUnix(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.SocketPath, err)
	}
	ipcServer.Listener = listener

	submit := func(c *gcode.Code) error {
		_, err := sched.Enqueue(c)
		return err
	}
	updater := hostinfo.NewUpdater(store, submit, cfg.HostUpdateInterval, cfg.MaxMessageAge)

	errc := make(chan error, 1)
	go func() { errc <- ipcServer.Serve(ctx) }()
	go updater.Run(ctx)
	go tickLoop(ctx, machine, dev, cfg.SPIPollDelay, errc)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errc:
		return err
	}
}

// tickLoop drives the steady-state scheduler cycle (spec.md §4.3 "1.
// Submission 2. Execution 3. Completion 4. the SBC waits for the
// firmware's data-ready signal or a poll interval, whichever comes
// first, before ticking again").
func tickLoop(ctx context.Context, m *protocol.Machine, dev wire.Duplex, pollDelay time.Duration, errc chan<- error) {
	var nextID uint16 = 1
	idFunc := func() uint16 {
		nextID++
		return nextID
	}

	for {
		if err := m.Tick(idFunc); err != nil {
			select {
			case errc <- fmt.Errorf("tick: %w", err):
			default:
			}
			return
		}

		if err := dev.WaitDataReady(ctx, pollDelay); err != nil {
			return
		}
	}
}

// macroOpener resolves a channel/filename pair to an
// internal/interp.Interpreter rooted at cfg.MacroDirectory, the
// scheduler's scheduler.Opener collaborator (spec.md §4.4 "macro
// directory resolution").
func macroOpener(cfg config.Config, store *model.Store, watcher *interp.MacroWatcher) scheduler.Opener {
	return func(channel gcode.Channel, filename string) (scheduler.FileReader, error) {
		path := filepath.Join(cfg.MacroDirectory, filepath.Clean("/"+filename))
		f, err := os.Open(path)
		if err != nil {
			watcher.NoteMissing(filename)
			return nil, fmt.Errorf("opening macro %s: %w", filename, err)
		}

		evaluator := &storeEvaluator{store: store}
		in := interp.New(f, path, channel, strings.HasPrefix(filename, "sys/"), evaluator)
		return &closingInterpreter{Interpreter: in, file: f}, nil
	}
}

// closingInterpreter closes the backing os.File alongside the
// interpreter. interp.Interpreter.Close already closes its source when
// that source is an io.Closer, so the os.ErrClosed from the second
// close is not reported.
type closingInterpreter struct {
	*interp.Interpreter
	file *os.File
}

func (c *closingInterpreter) Close() error {
	ierr := c.Interpreter.Close()
	ferr := c.file.Close()
	if ierr != nil {
		return ierr
	}
	if errors.Is(ferr, os.ErrClosed) {
		return nil
	}
	return ferr
}

// storeEvaluator satisfies interp.Evaluator as a stand-in for
// meta-gcode expression evaluation (spec.md §9 "Expression evaluator
// is an injected capability"). It returns the keyword code's argument
// text unchanged: it takes a read guard on the store but does not
// consult the snapshot, so only a literal "true" argument makes an
// if/elif/while condition true.
type storeEvaluator struct {
	store *model.Store
}

func (e *storeEvaluator) Evaluate(code *gcode.Code, expectBool bool) (string, error) {
	g := e.store.AccessReadOnly()
	defer g.Release()
	_ = g.Get()
	return code.KeywordArg, nil
}

// dispatchFor builds the Command/Intercept/PluginService/CodeStream
// session runner for one accepted IPC connection (spec.md §4.6).
func dispatchFor(sched *scheduler.Scheduler) func(ctx context.Context, conn net.Conn, init ipc.ClientInitMessage) error {
	handle := func(ctx context.Context, command string, args interface{}) (interface{}, *ipc.APIError) {
		switch command {
		case "Code":
			line, _ := args.(string)
			reply, err := submitAndAwait(ctx, sched, line)
			if err != nil {
				return nil, &ipc.APIError{Type: "CodeError", Message: err.Error()}
			}
			return reply, nil

		case "EvaluateExpression":
			expr, _ := args.(string)
			result, err := sched.EvaluateExpression(gcode.SBC, expr)
			if err != nil {
				return nil, &ipc.APIError{Type: "EvaluationError", Message: err.Error()}
			}
			return result, nil

		default:
			return nil, &ipc.APIError{Type: "NotSupported", Message: fmt.Sprintf("unknown command %q", command)}
		}
	}

	return func(ctx context.Context, conn net.Conn, init ipc.ClientInitMessage) error {
		switch init.Mode {
		case ipc.ModeCommand, ipc.ModeIntercept, ipc.ModePluginService:
			proc := &ipc.EnvelopeProcessor{
				Mode:   init.Mode,
				Handle: handle,
				Recv:   envelopeReceiver(conn),
				Send:   envelopeSender(conn),
			}
			return proc.Run(ctx)

		case ipc.ModeCodeStream:
			proc := &ipc.CodeStreamProcessor{
				Submit: func(ctx context.Context, line string) (string, error) {
					return submitAndAwait(ctx, sched, line)
				},
				Recv: lineReceiver(conn),
				Send: lineSender(conn),
			}
			return proc.Run(ctx)

		default:
			return fmt.Errorf("sbcd: unsupported mode %v", init.Mode)
		}
	}
}

// submitAndAwait parses one gcode line, enqueues it with a completion
// handle, and blocks for its resolved reply (spec.md §3 "Completion").
func submitAndAwait(ctx context.Context, sched *scheduler.Scheduler, line string) (string, error) {
	var lastMajor int
	code, err := gcode.ParseLine("<ipc>", 0, line, &lastMajor)
	if err != nil {
		return "", err
	}
	code.Channel = gcode.SBC
	code.Completion = gcode.NewCompletion()

	qc, err := sched.Enqueue(&code)
	if err != nil {
		return "", err
	}

	select {
	case <-qc.Code.Completion.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return qc.Code.Completion.Result()
}

// envelopeReceiver and envelopeSender carry Command/Intercept/
// PluginService envelopes as a plain stream of JSON documents
// (encoding/json Decoder/Encoder); no length prefix is read or written.
func envelopeReceiver(conn net.Conn) func() (ipc.Envelope, error) {
	dec := json.NewDecoder(conn)
	return func() (ipc.Envelope, error) {
		var env ipc.Envelope
		err := dec.Decode(&env)
		return env, err
	}
}

func envelopeSender(conn net.Conn) func(ipc.Reply) error {
	enc := json.NewEncoder(conn)
	return func(r ipc.Reply) error { return enc.Encode(r) }
}

func lineReceiver(conn net.Conn) func() (string, error) {
	r := bufio.NewReader(conn)
	return func() (string, error) {
		line, err := r.ReadString('\n')
		return strings.TrimRight(line, "\r\n"), err
	}
}

func lineSender(conn net.Conn) func(string) error {
	return func(s string) error {
		_, err := conn.Write([]byte(s + "\n"))
		return err
	}
}

func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	return net.Listen("unix", path)
}
