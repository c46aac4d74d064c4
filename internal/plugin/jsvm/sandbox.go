// Package jsvm executes plugin payloads inside a goja JavaScript runtime.
//
// Every execution gets a fresh runtime. The only host facilities visible to
// the payload are the ones listed in Capabilities; there is no require, no
// process object and no file or network access. Execution, including any
// timers the payload schedules, is bounded by the execution policy timeout.
package jsvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dop251/goja"

	"github.com/goatkit/hotplug/internal/plugin"
)

// Capabilities lists the globals installed into every runtime in addition to
// the ECMAScript built-ins.
var Capabilities = []string{
	"console",
	"module",
	"exports",
	"Buffer",
	"setTimeout",
	"clearTimeout",
	"setInterval",
	"clearInterval",
}

// Result describes a completed execution. Dropped counts timers still
// pending when the deadline passed.
type Result struct {
	Source   string
	Exports  []string
	Timers   int
	Dropped  int
	Duration time.Duration
}

// Sandbox runs payloads under a fixed execution policy. It holds no per-run
// state and is safe for concurrent use.
type Sandbox struct {
	policy  plugin.ExecutionPolicy
	logger  *slog.Logger
	logs    *plugin.LogBuffer
	metrics *plugin.Metrics
}

// Option configures a Sandbox.
type Option func(*Sandbox)

// WithLogger sets the logger that receives console output and errors.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sandbox) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithLogBuffer mirrors console output into buf.
func WithLogBuffer(buf *plugin.LogBuffer) Option {
	return func(s *Sandbox) {
		s.logs = buf
	}
}

// WithMetrics records execution durations.
func WithMetrics(m *plugin.Metrics) Option {
	return func(s *Sandbox) {
		s.metrics = m
	}
}

// NewSandbox creates a sandbox bound by policy.
func NewSandbox(policy plugin.ExecutionPolicy, opts ...Option) *Sandbox {
	if policy.MaxScriptBytes <= 0 {
		policy.MaxScriptBytes = plugin.DefaultMaxScriptBytes
	}
	if policy.MaxCallStackSize <= 0 {
		policy.MaxCallStackSize = plugin.DefaultMaxCallStackSize
	}
	if policy.MaxBufferBytes <= 0 {
		policy.MaxBufferBytes = plugin.DefaultMaxBufferBytes
	}
	s := &Sandbox{
		policy: policy,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var errInterrupted = errors.New("execution deadline reached")

// Execute compiles code and runs it to completion in a new runtime. Failures
// are returned as *plugin.ExecutionError; a payload still running when the
// policy timeout expires is interrupted and reported with Timeout set.
// Timers still waiting at that point are dropped without failing the run.
func (s *Sandbox) Execute(ctx context.Context, source, code string) (*Result, error) {
	start := time.Now()
	runID := plugin.RunIDFromContext(ctx)

	res, err := s.execute(ctx, source, runID, code)
	elapsed := time.Since(start)
	s.metrics.ObserveExecution(elapsed, err)
	if err != nil {
		s.display(source, runID, err)
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func (s *Sandbox) execute(ctx context.Context, source, runID, code string) (*Result, error) {
	if len(code) > s.policy.MaxScriptBytes {
		return nil, &plugin.ExecutionError{
			Source: source,
			Err:    fmt.Errorf("script is %d bytes, limit is %d", len(code), s.policy.MaxScriptBytes),
		}
	}

	prog, err := goja.Compile(source, code, false)
	if err != nil {
		return nil, &plugin.ExecutionError{Source: source, Err: fmt.Errorf("compile: %w", err)}
	}

	execCtx, cancel := context.WithTimeout(ctx, s.policy.Timeout())
	defer cancel()

	vm := goja.New()
	vm.SetMaxCallStackSize(s.policy.MaxCallStackSize)

	env := newEnvironment(vm, s.policy.MaxBufferBytes, &consoleSink{
		source: source,
		runID:  runID,
		logger: s.logger,
		logs:   s.logs,
	})
	if err := env.install(); err != nil {
		return nil, &plugin.ExecutionError{Source: source, Err: fmt.Errorf("install capabilities: %w", err)}
	}

	stop := context.AfterFunc(execCtx, func() {
		vm.Interrupt(errInterrupted)
	})
	defer stop()

	res, err := run(ctx, execCtx, env, prog)
	if err != nil {
		return nil, s.classify(ctx, execCtx, source, err)
	}
	res.Source = source
	if res.Dropped > 0 {
		s.logger.Warn("plugin timers dropped at deadline", "source", source, "run_id", runID, "dropped", res.Dropped)
	}
	return res, nil
}

// run evaluates the program, drains its timers and reads the export names.
// Reading module.exports can call payload getters and proxy traps, so it
// happens under the same recover and deadline as the script itself.
//
// When the deadline passes while the loop is idle between callbacks, the
// pending timers are dropped and the execution still succeeds. A callback
// that is running at the deadline is interrupted instead.
func run(parent, ctx context.Context, env *environment, prog *goja.Program) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, recovered(r)
		}
	}()
	if _, err := env.vm.RunProgram(prog); err != nil {
		return nil, err
	}
	res = &Result{Exports: env.exportNames()}

	if err := env.loop.drain(ctx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) || parent.Err() != nil {
			return nil, err
		}
		res.Dropped = env.loop.discard()
		res.Timers = env.loop.ran
		return res, nil
	}
	res.Exports = env.exportNames()
	res.Timers = env.loop.ran
	return res, nil
}

func recovered(r any) error {
	if err, ok := r.(error); ok {
		return fmt.Errorf("sandbox panic: %w", err)
	}
	return fmt.Errorf("sandbox panic: %v", r)
}

func (s *Sandbox) classify(parent, execCtx context.Context, source string, err error) error {
	if parent.Err() != nil {
		return &plugin.ExecutionError{Source: source, Err: parent.Err()}
	}
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) || execCtx.Err() != nil {
		return &plugin.ExecutionError{
			Source:  source,
			Timeout: true,
			Err:     fmt.Errorf("no completion within %s", s.policy.Timeout()),
		}
	}
	return &plugin.ExecutionError{Source: source, Err: err}
}

// display surfaces a failure on the operator channel when enabled. The error
// is returned to the caller either way.
func (s *Sandbox) display(source, runID string, err error) {
	if !s.policy.DisplayErrors {
		return
	}
	detail := err.Error()
	var exc *goja.Exception
	if errors.As(err, &exc) {
		detail = exc.String()
	}
	s.logger.Error("plugin execution error", "source", source, "run_id", runID, "error", detail)
	if s.logs != nil {
		s.logs.Log(source, runID, "error", detail)
	}
}
