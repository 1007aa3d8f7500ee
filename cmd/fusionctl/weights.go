package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"

	"github.com/okian/fusion/internal/adapters/repository"
	app "github.com/okian/fusion/internal/app"
	model "github.com/okian/fusion/internal/domain/model"
	weights "github.com/okian/fusion/internal/domain/weights"
	"github.com/okian/fusion/pkg/logger"
)

// errNoDatabase is returned by history when no weights database is configured.
var errNoDatabase = errors.New("weights_db_path is not configured")

func newWeightsCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect and validate source weight mappings",
	}
	cmd.AddCommand(newWeightsValidateCmd(), newWeightsShowCmd(root), newWeightsHistoryCmd(root))
	return cmd
}

func newWeightsValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check a YAML mapping of source to weight",
		Long: `Reads a flat YAML (or JSON) mapping such as

  model_inference: 0.4
  human_rating: 0.6

and reports whether the weight store would accept it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k := koanf.New("::")
			if err := k.Load(file.Provider(args[0]), yaml.Parser()); err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			m := weights.Mapping{}
			for _, key := range k.Keys() {
				src, err := model.ParseSource(key)
				if err != nil {
					return err
				}
				m[src] = k.Float64(key)
			}
			if err := m.Validate(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d sources, sum %.6f\n", len(m), m.Sum())
			return nil
		},
	}
}

func newWeightsShowCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show [SKILL]",
		Short: "Print the mapping in effect for a skill (default: the global mapping)",
		Args:  cobra.MaximumNArgs(1),
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

			skill := "default"
			if len(args) == 1 {
				skill = args[0]
			}
			snap, err := svc.Weights(skill)
			if err != nil {
				return err
			}
			if root.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"skill":   skill,
					"default": snap.IsDefault(),
					"version": snap.Version(),
					"weights": snap.Weights(),
				})
			}
			origin := "override"
			if snap.IsDefault() {
				origin = "default"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, version %d)\n", skill, origin, snap.Version())
			printMapping(cmd.OutOrStdout(), snap.Weights())
			return nil
		},
	}
}

func newWeightsHistoryCmd(root *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [SKILL]",
		Short: "List persisted versions of a mapping, newest first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load(cmd)
			if err != nil {
				return err
			}
			if cfg.WeightsDBPath == "" {
				return errNoDatabase
			}
			db, err := repository.OpenSQLiteWeights(cfg.WeightsDBPath)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			var skill model.Skill
			if len(args) == 1 && args[0] != "default" {
				if skill, err = model.ParseSkill(args[0]); err != nil {
					return err
				}
			}
			recs, err := db.History(cmd.Context(), skill, limit)
			if err != nil {
				return err
			}
			for _, r := range recs {
				fmt.Fprintf(cmd.OutOrStdout(), "version %d at %s\n", r.Version, r.UpdatedAt.Format("2006-01-02 15:04:05Z07:00"))
				printMapping(cmd.OutOrStdout(), r.Weights)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum versions to list")
	return cmd
}

func printMapping(w io.Writer, m weights.Mapping) {
	for _, src := range model.Sources() {
		if v, ok := m[src]; ok {
			fmt.Fprintf(w, "  %-16s %.3f\n", src, v)
		}
	}
}
