package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/hq/internal/builder"
)

// SQLOptions holds flags for the sql command.
type SQLOptions struct {
	*RootOptions
	Params bool
}

// SQLResult is the JSON payload of the sql command.
type SQLResult struct {
	SQL        string `json:"sql"`
	Parameters []any  `json:"parameters,omitempty"`
}

// NewSQLCommand creates the sql command.
func NewSQLCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SQLOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sql <query.yaml>",
		Short: "Render a query definition to SQL",
		Long: `Render a YAML query definition to SQL.

By default parameters are inlined as literals. With --params the SQL keeps
? placeholders and the parameters are printed separately.

Example:
  hq sql top-events.yaml
  hq sql top-events.yaml --params --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSQL(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Params, "params", false, "render ? placeholders and list parameters")

	return cmd
}

func runSQL(opts *SQLOptions, path string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	_, b, err := s.buildQuery(path)
	if err != nil {
		return err
	}

	if !opts.Params {
		sql, err := b.ToSQL()
		if err != nil {
			return s.formatter.Fail(ExitFailure, "failed to render query", err)
		}
		return s.formatter.Success(SQLResult{SQL: sql}, sql)
	}

	sql, params, err := b.ToSQLWithParams()
	if err != nil {
		return s.formatter.Fail(ExitFailure, "failed to render query", err)
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return s.formatter.Fail(ExitFailure, "failed to encode parameters", err)
	}
	return s.formatter.Success(SQLResult{SQL: sql, Parameters: params},
		fmt.Sprintf("%s\n-- parameters: %s", sql, encoded))
}

// buildQuery loads a definition and builds it against the session schema.
// Extra factory options are appended after the schema and relations.
func (s *session) buildQuery(path string, extra ...builder.Option) (*QueryDef, builder.Builder, error) {
	def, err := LoadQueryDef(path)
	if err != nil {
		return nil, builder.Builder{}, s.formatter.Fail(ExitCommandError, "failed to load query definition", err)
	}
	reg, err := def.Registry()
	if err != nil {
		return nil, builder.Builder{}, s.formatter.Fail(ExitFailure, "invalid relationships", err)
	}

	opts := []builder.Option{builder.WithRelations(reg), builder.WithLogger(s.logger)}
	if s.schema != nil {
		opts = append(opts, builder.WithSchema(s.schema))
	}
	f := builder.NewFactory(append(opts, extra...)...)

	b, err := def.Build(f)
	if err == nil {
		err = b.Err()
	}
	if err != nil {
		return nil, builder.Builder{}, s.formatter.Fail(ExitFailure, "invalid query", err)
	}
	s.formatter.VerboseLog("Built query on table %s", def.Table)
	return def, b, nil
}
