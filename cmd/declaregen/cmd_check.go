package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"declaregen/internal/condition"
	"declaregen/internal/declare"
	"declaregen/internal/encoding"
	"declaregen/internal/parser"
	"declaregen/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check <model.decl>...",
	Short: "Parse models and report syntax, integrity and condition errors",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheck,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List the supported constraint templates",
	Args:  cobra.NoArgs,
	RunE:  runTemplates,
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs recorded in the run store",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().StringVar(&dbPath, "db", "", "SQLite run store")
}

func runCheck(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	failed := 0
	for _, path := range args {
		res, err := parser.ParseFile(path, cfg.ParserOptions())
		if err != nil {
			failed++
			fmt.Fprintf(out, "%s: FAIL\n", path)
			var pe parser.ParseErrors
			if errors.As(err, &pe) {
				for _, e := range pe {
					fmt.Fprintf(out, "  %v\n", e)
				}
				continue
			}
			fmt.Fprintf(out, "  %v\n", err)
			continue
		}
		m := res.Model
		compiler := condition.NewCompiler(m, encoding.NewSession(false))
		var compileErrs []error
		for _, ci := range m.Constraints {
			if _, err := compiler.Compile(ci); err != nil {
				compileErrs = append(compileErrs, err)
			}
		}
		if len(compileErrs) > 0 {
			failed++
			fmt.Fprintf(out, "%s: FAIL\n", path)
			for _, e := range compileErrs {
				fmt.Fprintf(out, "  %v\n", e)
			}
			continue
		}
		fmt.Fprintf(out, "%s: ok (%d activities, %d attributes, %d constraints)\n",
			path, len(m.Activities), len(m.Attributes), len(m.Constraints))
		for _, w := range res.Warnings {
			fmt.Fprintf(out, "  warning: %s\n", w)
		}
		for i, ci := range m.Constraints {
			fmt.Fprintf(out, "  [%d] %s\n", i, ci)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d models failed", failed, len(args))
	}
	return nil
}

func runTemplates(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TEMPLATE\tARITY\tCARDINALITY\tNEGATIVE\tREVERSED\tBOTH-ACTIVATE")
	for _, t := range declare.Templates() {
		info := t.Info()
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", info.Name, info.Arity,
			yesNo(info.SupportsCardinality), yesNo(info.NegativePolarity),
			yesNo(info.ReversesActivation), yesNo(info.BothActivation))
	}
	return w.Flush()
}

func runRuns(cmd *cobra.Command, args []string) error {
	path := cfg.Store.Path
	if dbPath != "" {
		path = dbPath
	}
	if path == "" {
		return fmt.Errorf("no run store configured (use --db or store.path)")
	}
	st, err := store.Open(path)
	if err != nil {
		return err
	}
	defer st.Close()

	runs, err := st.Runs(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tMODEL\tPRODUCED\tREQUESTED\tTIMED OUT\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", r.ID, r.Model, r.Produced, r.Requested,
			yesNo(r.TimedOut), r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}
