package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"declaregen/internal/config"
	"declaregen/internal/generator"
	"declaregen/internal/parser"
	"declaregen/internal/solver"
	"declaregen/internal/store"
)

const orderModel = `activity Register
activity Pay
bind Pay: amount
amount: integer between 1 and 50
Response[Register, Pay] | | T.amount > 10 |
`

func setup(t *testing.T) {
	t.Helper()
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	outPath, dbPath, verifyAfter = "-", "", false
	compileNegative, compileEncode, compileTable, compileLength, compileViolate = false, false, false, 0, nil
}

func writeModel(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.decl")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func testCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestCheckCmd(t *testing.T) {
	setup(t)
	good := writeModel(t, orderModel)
	cmd, out := testCmd()
	require.NoError(t, runCheck(cmd, []string{good}))
	assert.Contains(t, out.String(), "ok (2 activities, 1 attributes, 1 constraints)")
	assert.Contains(t, out.String(), "[0] Response[Register, Pay]")

	bad := writeModel(t, "activity A\nResponse[A\n")
	cmd, out = testCmd()
	err := runCheck(cmd, []string{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 models failed")
	assert.Contains(t, out.String(), bad+": FAIL")
}

func TestCheckCmdReportsConditionErrors(t *testing.T) {
	setup(t)
	path := writeModel(t, "activity Register\nactivity Pay\nbind Pay: amount\n"+
		"amount: integer between 1 and 50\nResponse[Register, Pay] | A.missing > 1 | |\n")
	cmd, out := testCmd()
	err := runCheck(cmd, []string{path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 1 models failed")
	assert.Contains(t, out.String(), path+": FAIL")
	assert.Contains(t, out.String(), "unknown attribute in condition missing")
	assert.NotContains(t, out.String(), ": ok")
}

func TestTemplatesCmd(t *testing.T) {
	setup(t)
	cmd, out := testCmd()
	require.NoError(t, runTemplates(cmd, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 27)
	assert.True(t, strings.HasPrefix(lines[0], "TEMPLATE"))
	assert.Contains(t, out.String(), "Chain Response")
	assert.Contains(t, out.String(), "Not Chain Response")
}

func TestCompileCmd(t *testing.T) {
	setup(t)
	path := writeModel(t, orderModel)

	cmd, out := testCmd()
	compileLength = 4
	require.NoError(t, runCompile(cmd, []string{path}))
	assert.True(t, strings.HasPrefix(out.String(), "#const p=4.\n"))
	assert.Contains(t, out.String(), "#show trace/2.")

	cmd, out = testCmd()
	compileEncode, compileTable, compileNegative = true, true, true
	require.NoError(t, runCompile(cmd, []string{path}))
	program, table, ok := strings.Cut(out.String(), encodingHeader)
	require.True(t, ok)
	assert.NotContains(t, program, `"Register"`)
	assert.Contains(t, table, "Register")
}

// cycleControl serves models that cycle through the declared activities.
type cycleControl struct {
	acts   []string
	length int
}

func (c *cycleControl) Add(string, string) error          { return nil }
func (c *cycleControl) Ground(...string) error            { return nil }
func (c *cycleControl) AssignExternal(string, bool) error { return nil }
func (c *cycleControl) Close() error                      { return nil }

func (c *cycleControl) Solve(_ context.Context, maxModels int, onModel func(solver.Model) bool) (solver.Result, error) {
	res := solver.Result{Outcome: solver.Satisfiable}
	for k := 0; k < maxModels; k++ {
		var syms []solver.Symbol
		for t := 1; t <= c.length; t++ {
			sym, err := solver.ParseSymbol(fmt.Sprintf("trace(%s,%d)", c.acts[(k+t)%len(c.acts)], t))
			if err != nil {
				return res, err
			}
			syms = append(syms, sym)
		}
		res.Models++
		if !onModel(solver.Model{Number: res.Models, Symbols: syms}) {
			break
		}
	}
	return res, nil
}

func cycleFactory(args []string) (solver.Control, error) {
	c := &cycleControl{acts: []string{"a", "b"}}
	for _, a := range args {
		if strings.HasPrefix(a, "p=") {
			c.length, _ = strconv.Atoi(a[2:])
		}
	}
	return c, nil
}

func TestGenerate(t *testing.T) {
	setup(t)
	res, err := parser.ParseString("activity a\nactivity b\n", parser.Options{})
	require.NoError(t, err)

	st, err := store.Open(store.MemoryPath)
	require.NoError(t, err)
	defer st.Close()

	opts := generator.Options{Traces: 5, MinEvents: 1, MaxEvents: 3, Seed: 2, Sink: st}
	verifyAfter = true
	var out bytes.Buffer
	require.NoError(t, generate(context.Background(), &out, "model.decl", res.Model, cycleFactory, opts, st))

	var rep generator.Report
	require.NoError(t, json.Unmarshal(out.Bytes(), &rep))
	assert.Len(t, rep.Positive, 5)
	assert.Equal(t, 5, rep.Totals.Produced)

	runs, err := st.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].ID)
	assert.Equal(t, "model.decl", runs[0].Model)
}

func TestGenerateWritesFile(t *testing.T) {
	setup(t)
	res, err := parser.ParseString("activity a\nactivity b\n", parser.Options{})
	require.NoError(t, err)
	outPath = filepath.Join(t.TempDir(), "log.json")

	var stdout bytes.Buffer
	opts := generator.Options{Traces: 2, MinEvents: 2, MaxEvents: 2}
	require.NoError(t, generate(context.Background(), &stdout, "m", res.Model, cycleFactory, opts, nil))
	assert.Zero(t, stdout.Len())

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"run_id"`)
}

func TestApplyGenerateFlags(t *testing.T) {
	setup(t)
	require.NoError(t, generateCmd.Flags().Parse([]string{
		"--traces", "7", "--negative", "3", "--diversity", "random", "--violate", "0,2", "--timeout", "5s",
		"--heuristic", "Domain", "--workers", "4",
	}))
	t.Cleanup(func() {
		generateCmd.Flags().VisitAll(func(f *pflag.Flag) { f.Changed = false })
	})
	applyGenerateFlags(generateCmd)

	assert.Equal(t, 7, cfg.Generation.Traces)
	assert.Equal(t, 3, cfg.Generation.NegativeTraces)
	assert.Equal(t, []int{0, 2}, cfg.Generation.Violate)
	assert.Equal(t, "random", cfg.Diversity.Strategy)
	assert.Equal(t, "Domain", cfg.Solver.Heuristic)
	assert.Equal(t, 4, cfg.Parallel.Workers)
	assert.Equal(t, 10, cfg.Generation.MaxEvents, "unset flags keep config values")
	require.NoError(t, cfg.Validate())
}
