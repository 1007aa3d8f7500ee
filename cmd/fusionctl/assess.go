package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	app "github.com/okian/fusion/internal/app"
	model "github.com/okian/fusion/internal/domain/model"
	"github.com/okian/fusion/pkg/logger"
)

func newAssessCmd(root *rootOptions) *cobra.Command {
	var skill string
	cmd := &cobra.Command{
		Use:   "assess STUDENT_ID [STUDENT_ID...]",
		Short: "Assess one or more students for a skill",
		Long: `Fuses the evidence available for each student and prints the score,
confidence and explanation. Several IDs run as one batch.

Examples:
  fusionctl assess stu-001 --skill empathy
  fusionctl assess stu-001 stu-002 --skill problem_solving --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			svc, err := app.FromConfig(cmd.Context(), cfg, app.WithServiceOptions(app.WithLogger(logger.Nop())))
			if err != nil {
				return err
			}
			defer svc.Stop()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				a, err := svc.RequestAssessment(cmd.Context(), args[0], skill)
				if err != nil {
					return err
				}
				if root.jsonOutput {
					return writeJSON(out, a)
				}
				printAssessment(out, a)
				return nil
			}

			batch, err := svc.RequestBatch(cmd.Context(), args, skill)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return writeJSON(out, batch)
			}
			for _, r := range batch.Results {
				if r.Err != nil {
					fmt.Fprintf(out, "%s: error: %v\n\n", r.StudentID, r.Err)
					continue
				}
				printAssessment(out, *r.Assessment)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&skill, "skill", "s", "", "Skill to assess ("+skillNames()+")")
	_ = cmd.MarkFlagRequired("skill")
	return cmd
}

func printAssessment(w io.Writer, a model.Assessment) {
	fmt.Fprintln(w, a.String())
	if !a.NoEvidence {
		for _, src := range a.Contributing() {
			fmt.Fprintf(w, "  %-16s %.3f (weight %.2f)\n", src, a.SourceBreakdown[src], a.AppliedWeights[src])
		}
	}
	fmt.Fprintf(w, "  %s\n", a.ReasoningText)
	for _, s := range a.Strengths {
		fmt.Fprintf(w, "  + %s\n", s)
	}
	for _, g := range a.GrowthSuggestions {
		fmt.Fprintf(w, "  > %s\n", g)
	}
	fmt.Fprintln(w)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func skillNames() string {
	names := make([]string, 0, len(model.Skills()))
	for _, s := range model.Skills() {
		names = append(names, string(s))
	}
	return strings.Join(names, ", ")
}
