package main

import (
	"fmt"
	"math/rand"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"declaregen/internal/asp"
	"declaregen/internal/encoding"
	"declaregen/internal/parser"
)

var (
	compileNegative bool
	compileEncode   bool
	compileLength   int
	compileTable    bool
	compileViolate  []int
)

const encodingHeader = "\n% encoding table\n"

var compileCmd = &cobra.Command{
	Use:   "compile <model.decl>",
	Short: "Print the answer set program of a model",
	Long: `Prints the program clingo would solve. With --length the trace length
constant is bound in the output, so it can be fed to clingo directly:

  declaregen compile order.decl --length 5 | clingo 0`,
	Args: cobra.ExactArgs(1),
	RunE: runCompile,
}

func init() {
	compileCmd.Flags().BoolVar(&compileNegative, "negative", false, "Close the program with the violation directive")
	compileCmd.Flags().IntSliceVar(&compileViolate, "violate", nil, "Constraint indexes the negative program must violate")
	compileCmd.Flags().BoolVar(&compileEncode, "encode", false, "Encode identifiers")
	compileCmd.Flags().BoolVar(&compileTable, "table", false, "Print the encoding table after the program")
	compileCmd.Flags().IntVar(&compileLength, "length", 0, "Bind the trace length constant p")
}

func runCompile(cmd *cobra.Command, args []string) error {
	res, err := parser.ParseFile(args[0], cfg.ParserOptions())
	if err != nil {
		return err
	}
	session := encoding.NewSession(compileEncode)
	opts := asp.Options{
		Violations: compileViolate,
		Rand:       rand.New(rand.NewSource(cfg.Solver.Seed)),
		IntRange:   cfg.Generation.IntRange,
		FloatRange: cfg.Generation.FloatRange,
	}
	if compileNegative {
		opts.Mode = asp.Negative
	}
	prog, err := asp.Build(res.Model, session, opts)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if compileLength > 0 {
		fmt.Fprintf(out, "#const p=%d.\n", compileLength)
	}
	fmt.Fprint(out, prog.Text())

	if compileTable && session.Encoding() {
		fmt.Fprint(out, encodingHeader)
		w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		for _, e := range session.Snapshot() {
			fmt.Fprintf(w, "%% %s\t%s\t%s\n", e.Category, e.Token, e.Name)
		}
		return w.Flush()
	}
	return nil
}
