package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/pkg/storage"
)

// migrationSummary is the exported form of a migration result.
type migrationSummary struct {
	Table      string   `json:"table" yaml:"table"`
	Action     string   `json:"action" yaml:"action"`
	Statements []string `json:"statements,omitempty" yaml:"statements,omitempty"`
	Views      []string `json:"views,omitempty" yaml:"views,omitempty"`
	Orphans    []string `json:"orphans,omitempty" yaml:"orphans,omitempty"`
}

func summarize(res *storage.MigrationResult) migrationSummary {
	s := migrationSummary{
		Table:      res.Table,
		Action:     "none",
		Statements: res.Statements,
		Views:      res.Views,
	}
	switch {
	case res.Created:
		s.Action = "create"
	case res.Rebuilt:
		s.Action = "rebuild"
	case res.Changed():
		s.Action = "alter"
	}
	for _, c := range res.Plan.Orphans {
		s.Orphans = append(s.Orphans, c.Name)
	}
	return s
}

// NewPlanCommand creates the plan command.
func NewPlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the DDL a migrate would run",
		Long: `Compare the field model with the live database and print the statements
needed to bring every table and view up to date. Nothing is executed.`,
		Example: `  leapbase plan
  leapbase plan --output yaml > plan.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, false)
		},
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "migrate",
		Aliases: []string{"setup"},
		Short:   "Create or migrate every table",
		Long: `Create missing tables and migrate existing ones to the field model, in
link order. Each table migrates in its own transaction.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchema(cmd, true)
		},
	}
}

func runSchema(cmd *cobra.Command, apply bool) error {
	ctx := cmd.Context()
	cfg, err := configFrom(ctx)
	if err != nil {
		return err
	}
	e, err := openEngine(ctx, cfg, loggerFrom(ctx))
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var results []*storage.MigrationResult
	if apply {
		results, err = e.Setup(ctx)
	} else {
		results, err = e.Plan(ctx)
	}
	if err != nil {
		return err
	}
	return renderMigrations(rendererFrom(ctx), results, apply)
}

func renderMigrations(r *output.Renderer, results []*storage.MigrationResult, applied bool) error {
	summaries := make([]migrationSummary, len(results))
	for i, res := range results {
		summaries[i] = summarize(res)
	}
	if ok, err := r.Structured(summaries); ok {
		return err
	}

	styles := r.Styles()
	rows := make([][]any, 0)
	for _, s := range summaries {
		for _, stmt := range s.Statements {
			rows = append(rows, []any{s.Table, s.Action, stmt})
		}
		for _, o := range s.Orphans {
			r.Warnf("%s.%s has no field and is kept", s.Table, o)
		}
	}
	if len(rows) == 0 {
		r.Println(styles.Success.Render("✓ Schema is up to date"))
		return nil
	}
	r.Table([]string{"table", "action", "statement"}, rows)
	if applied {
		r.Println(styles.Success.Render(fmt.Sprintf("✓ Applied %d statements", len(rows))))
	} else {
		r.Println(styles.Muted.Render("Run `leapbase migrate` to apply."))
	}
	return nil
}
