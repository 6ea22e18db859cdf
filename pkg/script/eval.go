// Package script runs Starlark snippets against spreadsheet records.
//
// A filter is a single expression that decides whether a record is kept.
// A transform is a function body: it may edit the row dict in place,
// rebind row, or return a new dict. Both see two names:
//
//	row         dict of column name to display value
//	row_number  physical row number
//
// Besides the Starlark universe, scripts may call number(text[, default])
// to parse a cell value and blank(value) to test for an empty cell.
package script

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/maxexplode/fastexcel/pkg/reader"
)

// DefaultTimeout bounds a single evaluation.
const DefaultTimeout = 30 * time.Second

// ErrTimeout is returned when an evaluation runs past its deadline.
var ErrTimeout = errors.New("starlark execution timeout")

// Result is the output of a free-form script.
type Result struct {
	// Output holds the script's public globals.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script ran.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is set when the script failed.
	Error string `json:"error,omitempty"`
}

// Evaluator executes Starlark with a per-call timeout. Compiled programs
// are cached by source, so running the same filter for every row only
// parses it once. An Evaluator is safe for concurrent use.
type Evaluator struct {
	timeout  time.Duration
	logger   zerolog.Logger
	programs sync.Map // source -> *starlark.Program
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithLogger sends print() output to logger at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Evaluator) { e.logger = logger }
}

// NewEvaluator creates an evaluator. A zero timeout means DefaultTimeout.
func NewEvaluator(timeout time.Duration, opts ...Option) *Evaluator {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	e := &Evaluator{timeout: timeout, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate executes script with input as predeclared globals and returns
// every global whose name does not start with an underscore. Functions
// are left out.
func (e *Evaluator) Evaluate(ctx context.Context, script string, input map[string]interface{}) (*Result, error) {
	start := time.Now()

	predeclared := e.predeclared()
	for key, val := range input {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return &Result{ExecutionTime: time.Since(start), Error: err.Error()},
				fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	globals, err := e.run(ctx, "script.star", script, predeclared)
	if err != nil {
		return &Result{ExecutionTime: time.Since(start), Error: err.Error()}, err
	}

	output := make(map[string]interface{}, len(globals))
	for name, val := range globals {
		if len(name) > 0 && name[0] == '_' {
			continue
		}
		if _, ok := val.(starlark.Callable); ok {
			continue
		}
		v, err := fromStarlarkValue(val)
		if err != nil {
			return &Result{ExecutionTime: time.Since(start), Error: err.Error()},
				fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = v
	}
	return &Result{Output: output, ExecutionTime: time.Since(start)}, nil
}

// Filter reports whether expr is truthy for rec.
func (e *Evaluator) Filter(ctx context.Context, expr string, rec reader.Record) (bool, error) {
	predeclared, _, err := e.recordEnv(rec)
	if err != nil {
		return false, err
	}

	src := "keep = (\n" + expr + "\n)\n"
	globals, err := e.run(ctx, "filter.star", src, predeclared)
	if err != nil {
		return false, fmt.Errorf("filter row %d: %w", rec.Row, err)
	}
	return bool(globals["keep"].Truth()), nil
}

// Transform runs script as the body of a function of row and row_number.
// The record is taken from the function's return value, or from row when
// the script does not return a dict. Values
// are rendered back to text; columns the script adds are appended after
// the existing ones, and columns it removes are dropped.
func (e *Evaluator) Transform(ctx context.Context, script string, rec reader.Record) (reader.Record, error) {
	predeclared, row, err := e.recordEnv(rec)
	if err != nil {
		return rec, err
	}

	globals, err := e.run(ctx, "transform.star", transformSource(script), predeclared)
	if err != nil {
		return rec, fmt.Errorf("transform row %d: %w", rec.Row, err)
	}

	out := globals["_result"]
	if out == nil || out == starlark.None {
		out = row
	}
	dict, ok := out.(*starlark.Dict)
	if !ok {
		return rec, fmt.Errorf("transform row %d: row must be a dict, got %s", rec.Row, out.Type())
	}
	return toRecord(rec, dict)
}

// transformSource wraps script in a function so that it may use if, for
// and return, and rebind row locally.
func transformSource(script string) string {
	var b strings.Builder
	b.WriteString("def _transform(row, row_number):\n")
	for _, line := range strings.Split(script, "\n") {
		b.WriteString("    ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("    pass\n    return row\n\n_result = _transform(row, row_number)\n")
	return b.String()
}

func (e *Evaluator) recordEnv(rec reader.Record) (starlark.StringDict, *starlark.Dict, error) {
	row := starlark.NewDict(len(rec.Values))
	for _, name := range columnOrder(rec) {
		if err := row.SetKey(starlark.String(name), starlark.String(rec.Values[name])); err != nil {
			return nil, nil, err
		}
	}
	predeclared := e.predeclared()
	predeclared["row"] = row
	predeclared["row_number"] = starlark.MakeInt(rec.Row)
	return predeclared, row, nil
}

func (e *Evaluator) predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":    starlark.NewBuiltin("struct", starlarkstruct.Make),
		"range":     starlark.NewBuiltin("range", builtinRange),
		"enumerate": starlark.NewBuiltin("enumerate", builtinEnumerate),
		"zip":       starlark.NewBuiltin("zip", builtinZip),
		"number":    starlark.NewBuiltin("number", builtinNumber),
		"blank":     starlark.NewBuiltin("blank", builtinBlank),
	}
}

// run executes src and waits for it or the deadline. On timeout the
// thread is cancelled so the goroutine does not outlive the call.
func (e *Evaluator) run(ctx context.Context, filename, src string, predeclared starlark.StringDict) (starlark.StringDict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prog, err := e.compile(filename, src, predeclared)
	if err != nil {
		return nil, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "fastexcel",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug().Str("script", filename).Msg(msg)
		},
	}

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		g, err := prog.Init(thread, predeclared)
		done <- outcome{g, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("deadline exceeded")
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %v", ErrTimeout, e.timeout)
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("starlark execution failed: %w", res.err)
		}
		return res.globals, nil
	}
}

func (e *Evaluator) compile(filename, src string, predeclared starlark.StringDict) (*starlark.Program, error) {
	names := make([]string, 0, len(predeclared))
	for name := range predeclared {
		names = append(names, name)
	}
	sort.Strings(names)
	key := strings.Join(names, ",") + "\x00" + filename + "\x00" + src
	if p, ok := e.programs.Load(key); ok {
		return p.(*starlark.Program), nil
	}
	_, prog, err := starlark.SourceProgram(filename, src, predeclared.Has)
	if err != nil {
		return nil, fmt.Errorf("starlark compile failed: %w", err)
	}
	e.programs.Store(key, prog)
	return prog, nil
}
