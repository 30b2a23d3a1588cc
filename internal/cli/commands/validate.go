package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/leapbase/internal/cli/output"
	"github.com/leapstack-labs/leapbase/internal/config"
	"github.com/leapstack-labs/leapbase/pkg/adapter"
	"github.com/leapstack-labs/leapbase/pkg/core"
)

type tableSummary struct {
	Name   string            `json:"name" yaml:"name"`
	Fields map[string]string `json:"fields" yaml:"fields"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configured field model",
		Long: `Decode and validate the field model without touching the database.

Every problem is reported at once, keyed by table and field.`,
		Example: `  leapbase validate
  leapbase validate --config ./schema/leapbase.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			tables, err := validateConfig(cfg)
			if err != nil {
				return err
			}
			return renderModel(rendererFrom(cmd.Context()), tables)
		},
	}
}

func validateConfig(cfg *config.Config) ([]core.Table, error) {
	if !adapter.IsRegistered(cfg.Database.Type) {
		return nil, &adapter.UnknownAdapterError{Type: cfg.Database.Type, Available: adapter.ListAdapters()}
	}
	return cfg.Model()
}

func renderModel(r *output.Renderer, tables []core.Table) error {
	summaries := make([]tableSummary, len(tables))
	for i, t := range tables {
		s := tableSummary{Name: t.Name, Fields: make(map[string]string, len(t.Fields))}
		for _, f := range t.Fields {
			s.Fields[f.FieldName()] = string(f.FieldType())
		}
		summaries[i] = s
	}
	if ok, err := r.Structured(summaries); ok {
		return err
	}

	styles := r.Styles()
	rows := make([][]any, 0)
	for _, t := range tables {
		for _, f := range t.Fields {
			rows = append(rows, []any{t.Name, f.FieldName(), string(f.FieldType())})
		}
	}
	r.Table([]string{"table", "field", "type"}, rows)
	r.Println(styles.Success.Render(fmt.Sprintf("✓ %d tables are valid", len(tables))))
	return nil
}
