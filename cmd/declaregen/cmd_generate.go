package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"declaregen/internal/declare"
	"declaregen/internal/generator"
	"declaregen/internal/parser"
	"declaregen/internal/solver"
	"declaregen/internal/store"
	"declaregen/internal/verify"
)

var (
	outPath     string
	dbPath      string
	verifyAfter bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <model.decl>",
	Short: "Generate positive and negative traces for a model",
	Long: `Parses the model, samples trace lengths, and asks clingo for traces of
each length. Flags override the config file.

Example:
  declaregen generate order.decl --traces 100 --min-events 3 --max-events 8 \
    --negative 20 --violate 1 --diversity levenshtein --threshold 4 --out log.json`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	f := generateCmd.Flags()
	f.Int("traces", 0, "Positive traces to generate")
	f.Int("negative", 0, "Negative traces to generate")
	f.Int("min-events", 0, "Minimum trace length")
	f.Int("max-events", 0, "Maximum trace length")
	f.String("distribution", "", "Length distribution: uniform, gaussian, custom")
	f.Float64("mu", 0, "Gaussian mean")
	f.Float64("sigma", 0, "Gaussian standard deviation")
	f.Float64Slice("probabilities", nil, "Custom length probabilities, one per length")
	f.Bool("encode", false, "Encode identifiers before solving")
	f.IntSlice("violate", nil, "Constraint indexes negative traces must violate")
	f.Bool("violate-all", false, "Negative traces violate every constraint")
	f.Bool("strict", false, "Reject bind lines naming undeclared activities")
	f.Int64("seed", 0, "Random seed")
	f.String("clingo", "", "Path to the clingo binary")
	f.String("solver-config", "", "clingo --configuration")
	f.Int("threads", 0, "clingo parallel threads")
	f.Float64("random-frequency", 0, "clingo --rand-freq")
	f.String("sign-default", "", "clingo --sign-def")
	f.String("opt-mode", "", "clingo --opt-mode")
	f.String("opt-strategy", "", "clingo --opt-strategy")
	f.String("heuristic", "", "clingo --heuristic")
	f.Bool("restart-on-model", false, "clingo --restart-on-model")
	f.String("timeout", "", "Per-call solver timeout, e.g. 30s")
	f.Int("batch-size", 0, "Models per solver batch")
	f.String("diversity", "", "Diversity strategy: none, random, hamming, levenshtein")
	f.Int("threshold", 0, "Diversity threshold")
	f.Int("workers", 0, "Cells solved concurrently")

	f.StringVarP(&outPath, "out", "o", "-", "Output file for the JSON report")
	f.StringVar(&dbPath, "db", "", "SQLite run store")
	f.BoolVar(&verifyAfter, "verify", false, "Check every trace against the model")
}

// applyGenerateFlags copies explicitly set flags onto the loaded config.
func applyGenerateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	g := &cfg.Generation
	s := &cfg.Solver
	set := func(name string, apply func()) {
		if f.Changed(name) {
			apply()
		}
	}
	set("traces", func() { g.Traces, _ = f.GetInt("traces") })
	set("negative", func() { g.NegativeTraces, _ = f.GetInt("negative") })
	set("min-events", func() { g.MinEvents, _ = f.GetInt("min-events") })
	set("max-events", func() { g.MaxEvents, _ = f.GetInt("max-events") })
	set("distribution", func() { g.Distribution, _ = f.GetString("distribution") })
	set("mu", func() { g.Mu, _ = f.GetFloat64("mu") })
	set("sigma", func() { g.Sigma, _ = f.GetFloat64("sigma") })
	set("probabilities", func() { g.Probabilities, _ = f.GetFloat64Slice("probabilities") })
	set("encode", func() { g.Encode, _ = f.GetBool("encode") })
	set("violate", func() { g.Violate, _ = f.GetIntSlice("violate") })
	set("violate-all", func() { g.ViolateAll, _ = f.GetBool("violate-all") })
	set("strict", func() { g.StrictBind, _ = f.GetBool("strict") })
	set("seed", func() { s.Seed, _ = f.GetInt64("seed") })
	set("clingo", func() { s.Binary, _ = f.GetString("clingo") })
	set("solver-config", func() { s.Configuration, _ = f.GetString("solver-config") })
	set("threads", func() { s.Threads, _ = f.GetInt("threads") })
	set("random-frequency", func() { s.RandomFrequency, _ = f.GetFloat64("random-frequency") })
	set("sign-default", func() { s.SignDefault, _ = f.GetString("sign-default") })
	set("opt-mode", func() { s.OptMode, _ = f.GetString("opt-mode") })
	set("opt-strategy", func() { s.OptStrategy, _ = f.GetString("opt-strategy") })
	set("heuristic", func() { s.Heuristic, _ = f.GetString("heuristic") })
	set("restart-on-model", func() { s.RestartOnModel, _ = f.GetBool("restart-on-model") })
	set("timeout", func() { s.Timeout, _ = f.GetString("timeout") })
	set("batch-size", func() { s.BatchSize, _ = f.GetInt("batch-size") })
	set("diversity", func() { cfg.Diversity.Strategy, _ = f.GetString("diversity") })
	set("threshold", func() { cfg.Diversity.Threshold, _ = f.GetInt("threshold") })
	set("workers", func() { cfg.Parallel.Workers, _ = f.GetInt("workers") })
	if dbPath != "" {
		cfg.Store.Path = dbPath
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	applyGenerateFlags(cmd)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	res, err := parser.ParseFile(args[0], cfg.ParserOptions())
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("model warning", zap.String("file", args[0]), zap.String("warning", w.String()))
	}

	bin, err := solver.FindClingo(cfg.Solver.Binary)
	if err != nil {
		return err
	}

	opts := cfg.GeneratorOptions(len(res.Model.Constraints))
	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Sink = st
	}

	return generate(ctx, cmd.OutOrStdout(), args[0], res.Model, solver.NewClingoFactory(bin), opts, st)
}

// generate runs the generator and writes its report. st may be nil.
func generate(ctx context.Context, stdout io.Writer, modelPath string, m *declare.Model, factory solver.Factory, opts generator.Options, st *store.Store) error {
	g := generator.New(m, factory, opts)
	rep, err := g.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("generation finished",
		zap.String("run", rep.RunID),
		zap.Int("requested", rep.Totals.Requested),
		zap.Int("produced", rep.Totals.Produced),
		zap.Bool("timed_out", rep.Totals.TimedOut),
		zap.Duration("solver_time", rep.Totals.Stats.Total))
	for _, w := range rep.Warnings {
		logger.Warn(w)
	}

	if st != nil {
		if err := st.SaveRun(ctx, store.RunFromReport(rep, modelPath)); err != nil {
			return err
		}
	}

	if err := writeReport(stdout, rep); err != nil {
		return err
	}

	if verifyAfter {
		return verifyTraces(m, rep.Traces())
	}
	return nil
}

func writeReport(stdout io.Writer, rep *generator.Report) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')
	if outPath == "" || outPath == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	logger.Info("report written", zap.String("path", outPath))
	return nil
}

func verifyTraces(m *declare.Model, traces []declare.Trace) error {
	bad := 0
	for _, tr := range traces {
		res, err := verify.Check(m, tr)
		if err != nil {
			return fmt.Errorf("verify %s: %w", tr.ID, err)
		}
		if !res.Consistent() {
			bad++
			logger.Warn("trace does not match its label",
				zap.String("trace", tr.ID),
				zap.String("label", string(tr.Label)),
				zap.Ints("violated", res.Violated()),
				zap.Strings("issues", res.Issues))
		}
	}
	logger.Info("verification finished", zap.Int("traces", len(traces)), zap.Int("inconsistent", bad))
	if bad > 0 {
		return fmt.Errorf("%d of %d traces failed verification", bad, len(traces))
	}
	return nil
}
