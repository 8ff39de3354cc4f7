package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"declaregen/internal/logging"
)

// DefaultBinary is the clingo executable looked up on PATH.
const DefaultBinary = "clingo"

// clingo exit code bits.
const (
	exitInterrupted = 1
	exitSat         = 10
	exitExhausted   = 20
	exitError       = 33
)

// FindClingo resolves the clingo binary. An empty name means DefaultBinary.
func FindClingo(binary string) (string, error) {
	if binary == "" {
		binary = DefaultBinary
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		return "", fmt.Errorf("solver: clingo not found: %w", err)
	}
	return path, nil
}

// NewClingoFactory returns a Factory running binary in a subprocess per solve.
func NewClingoFactory(binary string) Factory {
	return func(args []string) (Control, error) {
		return NewClingo(binary, args), nil
	}
}

// Clingo runs the clingo binary once per Solve with every grounded part on
// stdin. Parts grounded after a solve join the next one.
type Clingo struct {
	binary string
	args   []string

	mu       sync.Mutex
	parts     map[string]*strings.Builder
	grounded  []string
	externals map[string]bool
	closed    bool
}

// NewClingo creates a Clingo control.
func NewClingo(binary string, args []string) *Clingo {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Clingo{
		binary: binary,
		args:   append([]string(nil), args...),
		parts:     make(map[string]*strings.Builder),
		externals: make(map[string]bool),
	}
}

// Add appends program text to part.
func (c *Clingo) Add(part, program string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("solver: control closed")
	}
	b, ok := c.parts[part]
	if !ok {
		b = &strings.Builder{}
		c.parts[part] = b
	}
	b.WriteString(program)
	if !strings.HasSuffix(program, "\n") {
		b.WriteByte('\n')
	}
	return nil
}

// Ground selects parts for solving. Grounding a part twice is a no-op.
func (c *Clingo) Ground(parts ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("solver: control closed")
	}
	for _, p := range parts {
		if _, ok := c.parts[p]; !ok {
			return fmt.Errorf("solver: ground unknown part %q", p)
		}
		dup := false
		for _, g := range c.grounded {
			if g == p {
				dup = true
				break
			}
		}
		if !dup {
			c.grounded = append(c.grounded, p)
		}
	}
	return nil
}

// AssignExternal records the value of an external atom. True externals are
// passed to the subprocess as facts; false ones keep their default.
func (c *Clingo) AssignExternal(atom string, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("solver: control closed")
	}
	if _, err := ParseSymbol(atom); err != nil {
		return fmt.Errorf("solver: external: %w", err)
	}
	if value {
		c.externals[atom] = true
	} else {
		delete(c.externals, atom)
	}
	return nil
}

// program returns the grounded text followed by the true externals.
func (c *Clingo) program() string {
	var sb strings.Builder
	for _, p := range c.grounded {
		sb.WriteString(c.parts[p].String())
	}
	atoms := make([]string, 0, len(c.externals))
	for a := range c.externals {
		atoms = append(atoms, a)
	}
	sort.Strings(atoms)
	for _, a := range atoms {
		sb.WriteString(a)
		sb.WriteString(".\n")
	}
	return sb.String()
}

type clingoOutput struct {
	Result string `json:"Result"`
	Call   []struct {
		Witnesses []struct {
			Value []string `json:"Value"`
		} `json:"Witnesses"`
	} `json:"Call"`
	Models struct {
		Number int    `json:"Number"`
		More   string `json:"More"`
	} `json:"Models"`
	Time struct {
		Total float64 `json:"Total"`
		Solve float64 `json:"Solve"`
		Model float64 `json:"Model"`
		Unsat float64 `json:"Unsat"`
		CPU   float64 `json:"CPU"`
	} `json:"Time"`
}

func seconds(f float64) time.Duration { return time.Duration(f * float64(time.Second)) }

// Solve runs clingo. When the solver stops on its own time limit the models
// found so far are delivered and ErrTimeout is returned with the result.
func (c *Clingo) Solve(ctx context.Context, maxModels int, onModel func(Model) bool) (Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Result{}, errors.New("solver: control closed")
	}
	if len(c.grounded) == 0 {
		c.mu.Unlock()
		return Result{}, errors.New("solver: nothing grounded")
	}
	program := c.program()
	c.mu.Unlock()

	args := append(append([]string(nil), c.args...), "--outf=2", fmt.Sprintf("--models=%d", maxModels))
	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Stdin = strings.NewReader(program)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logging.SolverDebug("running %s %s (%d bytes)", c.binary, strings.Join(args, " "), len(program))
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	res := Result{Stats: Statistics{Requested: maxModels, Total: elapsed}}
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.Interrupted = true
		res.Stats.Result = Unknown.String()
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			res.Stats.TimedOut = true
			logging.SolverWarn("clingo killed after %s", elapsed)
			return res, ErrTimeout
		}
		return res, ctxErr
	}

	code := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return res, fmt.Errorf("solver: run %s: %w", c.binary, runErr)
		}
		code = exitErr.ExitCode()
	}
	if code >= exitError || code < 0 {
		return res, fmt.Errorf("solver: clingo exited with code %d: %s", code, firstLine(stderr.String()))
	}

	var out clingoOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return res, fmt.Errorf("solver: decode clingo output: %w", err)
	}
	res.Stats.Total = seconds(out.Time.Total)
	res.Stats.Solve = seconds(out.Time.Solve)
	res.Stats.Model = seconds(out.Time.Model)
	res.Stats.Unsat = seconds(out.Time.Unsat)
	res.Stats.CPU = seconds(out.Time.CPU)

	sat := code&exitSat == exitSat
	res.Exhausted = code&exitExhausted == exitExhausted
	res.Interrupted = code&exitInterrupted != 0
	switch {
	case sat:
		res.Outcome = Satisfiable
	case res.Exhausted:
		res.Outcome = Unsatisfiable
	}
	res.Stats.Result = res.Outcome.String()

	n := 0
deliver:
	for _, call := range out.Call {
		for _, w := range call.Witnesses {
			syms := make([]Symbol, 0, len(w.Value))
			for _, v := range w.Value {
				s, err := ParseSymbol(v)
				if err != nil {
					return res, err
				}
				syms = append(syms, s)
			}
			n++
			res.Models = n
			res.Stats.Produced = n
			if !onModel(Model{Number: n, Symbols: syms}) {
				break deliver
			}
		}
	}

	logging.SolverDebug("clingo exit %d: %s, %d models in %s", code, res.Outcome, n, res.Stats.Total)
	if res.Interrupted && res.Outcome != Unsatisfiable && !res.Exhausted {
		res.Stats.TimedOut = true
		return res, ErrTimeout
	}
	return res, nil
}

// Close releases the control.
func (c *Clingo) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.parts = nil
	c.grounded = nil
	c.externals = nil
	return nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
