package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/hq/internal/builder"
	"github.com/roach88/hq/internal/cache"
)

// NewKeyCommand creates the key command.
func NewKeyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key <query.yaml>",
		Short: "Print the cache key of a query definition",
		Long: `Print the cache key a query definition is stored under, using the
configured cache namespace and version. Useful with "hq cache invalidate --key".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKey(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runKey(opts *RootOptions, path string, cmd *cobra.Command) error {
	s, err := openSession(opts, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctrl := s.controller(cache.NoopProvider{})
	_, b, err := s.buildQuery(path, builder.WithCache(ctrl))
	if err != nil {
		return err
	}
	key, err := b.Key()
	if err != nil {
		return s.formatter.Fail(ExitFailure, "failed to derive cache key", err)
	}
	return s.formatter.Success(map[string]string{"key": key}, key)
}
