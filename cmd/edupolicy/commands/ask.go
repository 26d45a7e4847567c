package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/k0kubun/pp"
	"github.com/spf13/cobra"

	"github.com/54b3r/edupolicy-go/internal/citation"
	"github.com/54b3r/edupolicy-go/internal/controller"
	"github.com/54b3r/edupolicy-go/internal/logging"
	"github.com/54b3r/edupolicy-go/internal/rag"
	"github.com/54b3r/edupolicy-go/internal/tracing"
)

var (
	heading   = color.New(color.Bold).SprintFunc()
	citeColor = color.New(color.FgCyan).SprintFunc()
	dimmed    = color.New(color.Faint).SprintFunc()
	riskColor = map[citation.Level]func(a ...any) string{
		citation.LevelLow:    color.New(color.FgGreen).SprintFunc(),
		citation.LevelMedium: color.New(color.FgYellow).SprintFunc(),
		citation.LevelHigh:   color.New(color.FgRed, color.Bold).SprintFunc(),
	}
)

// NewAskCmd constructs the `edupolicy ask` command, which runs one question
// through the controller and prints the answer with its citations.
func NewAskCmd() *cobra.Command {
	var model string
	var mode string
	var filters map[string]string
	var trace bool

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about education policy",
		Long: `Ask a natural language question against the ingested policy corpus.

The answer is printed with the citations that survived verification and a
risk assessment. --trace pretty-prints the full result, including every
retrieval round and the fused evidence.

Examples:
  edupolicy ask "What is the minimum attendance required at GITAM?"
  edupolicy ask --mode deep "How is the merit scholarship renewed?"
  edupolicy ask --filter category=admission --model gpt-4o "B.Tech eligibility?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			thinking, err := controller.ParseThinkingMode(mode)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			flush, _ := tracing.Setup(log)
			defer flush()

			st, err := openStack(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer st.Close()

			router, _ := newRouter(log)
			res, err := st.controller(router, nil).Run(ctx, controller.Request{
				Query:        strings.Join(args, " "),
				Model:        model,
				ThinkingMode: thinking,
				Filters:      rag.Filters(filters),
			})
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			printResult(cmd.OutOrStdout(), res)
			if trace {
				pp.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id (default: DEFAULT_MODEL)")
	cmd.Flags().StringVar(&mode, "mode", "smart", "Thinking mode: smart, general, deep or reasoning")
	cmd.Flags().StringToStringVar(&filters, "filter", nil, "Metadata filter key=value (repeatable)")
	cmd.Flags().BoolVar(&trace, "trace", false, "Pretty-print the full result")

	return cmd
}

// printResult renders the answer, citations and risk.
func printResult(w io.Writer, res *controller.Result) {
	fmt.Fprintln(w, heading("Answer"))
	fmt.Fprintln(w, res.Answer)
	fmt.Fprintln(w)

	if len(res.Citations) > 0 {
		fmt.Fprintln(w, heading("Citations"))
		for i, c := range res.Citations {
			fmt.Fprintf(w, "  %s %s p.%d  %s\n", citeColor(fmt.Sprintf("[%d]", i+1)), c.DocID, c.Page, dimmed(fmt.Sprintf("%q", c.Span)))
		}
		fmt.Fprintln(w)
	}

	paint, ok := riskColor[res.Assessment.Level]
	if !ok {
		paint = fmt.Sprint
	}
	fmt.Fprintf(w, "%s %s\n", heading("Risk"), paint(res.Risk))
	fmt.Fprintln(w, dimmed(fmt.Sprintf("language=%s iterations=%d termination=%s",
		res.Trace.Language, res.Trace.Iterations, res.Termination)))
}
