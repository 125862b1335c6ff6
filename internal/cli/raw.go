package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/hq/internal/builder"
	"github.com/roach88/hq/internal/rawquery"
	"github.com/roach88/hq/internal/transport"
)

// RawOptions holds flags for the raw command.
type RawOptions struct {
	*RootOptions
	Params  []string
	Hints   []string
	Execute bool
}

// RawResult is the JSON payload of the raw command.
type RawResult struct {
	SQL  string          `json:"sql"`
	Rows []transport.Row `json:"rows,omitempty"`
}

// NewRawCommand creates the raw command.
func NewRawCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RawOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "raw <sql>",
		Short: "Substitute :name parameters into hand-written SQL",
		Long: `Substitute :name parameters into hand-written SQL and print the result.
Values are parsed as YAML scalars, so 42 is a number and 'x' or x is a string.
Every placeholder needs a value and every value must be used.

With --execute the SQL is run against the configured database and the
--hint columns are coerced (number, boolean, string).

Example:
  hq raw "SELECT * FROM events WHERE id = :id" -p id=42
  hq raw "SELECT count(*) AS n FROM events" --execute --hint n=number`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRaw(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Params, "param", "p", nil, "parameter as name=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Hints, "hint", nil, "result coercion as column=number|boolean|string (repeatable)")
	cmd.Flags().BoolVar(&opts.Execute, "execute", false, "run the SQL against the configured database")

	return cmd
}

func runRaw(opts *RawOptions, sql string, cmd *cobra.Command) error {
	s, err := openSession(opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	params, err := parseParams(opts.Params)
	if err != nil {
		return s.formatter.Fail(ExitCommandError, "invalid --param", err)
	}
	hints, err := parseHints(opts.Hints)
	if err != nil {
		return s.formatter.Fail(ExitCommandError, "invalid --hint", err)
	}

	substituted, err := rawquery.Substitute(sql, params)
	if err != nil {
		return s.formatter.Fail(ExitFailure, "failed to substitute parameters", err)
	}
	if !opts.Execute {
		return s.formatter.Success(RawResult{SQL: substituted}, substituted)
	}

	db, err := s.database()
	if err != nil {
		return s.formatter.FailAs(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	f := builder.NewFactory(builder.WithExecutor(db), builder.WithLogger(s.logger))
	rows, err := f.RawQuery(cmd.Context(), sql, params, hints)
	if err != nil {
		return s.formatter.FailAs(ExitFailure, ErrCodeDatabase, "query failed", err)
	}
	return s.formatter.Success(RawResult{SQL: substituted, Rows: rows}, formatRows(rows))
}

func parseParams(pairs []string) (map[string]any, error) {
	params := make(map[string]any, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%q is not name=value", p)
		}
		var v any
		if raw == "" {
			v = ""
		} else if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("value of %s: %w", name, err)
		}
		params[name] = v
	}
	return params, nil
}

func parseHints(pairs []string) (map[string]rawquery.Hint, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	hints := make(map[string]rawquery.Hint, len(pairs))
	for _, p := range pairs {
		col, hint, ok := strings.Cut(p, "=")
		if !ok || col == "" {
			return nil, fmt.Errorf("%q is not column=hint", p)
		}
		switch h := rawquery.Hint(hint); h {
		case rawquery.HintNumber, rawquery.HintBoolean, rawquery.HintString:
			hints[col] = h
		default:
			return nil, fmt.Errorf("unknown hint %q for %s", hint, col)
		}
	}
	return hints, nil
}
