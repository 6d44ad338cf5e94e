package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/herculesinc/credo.rate-limiter/pkg/limiter"
)

// ExitRejected is the process status of a try that was rate limited.
const ExitRejected = 2

type globalFlags struct {
	configPath string
	envFile    string
}

// NewRootCmd creates the root credo-limiter command.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "credo-limiter",
		Short: "Distributed sliding-window rate limiter",
		Long: `credo-limiter evaluates sliding-window rate limits against Redis.
Run a rate limited demo service, check a single identifier, or write a
starter configuration file.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "optional .env file with CREDO_* variables")

	root.AddCommand(
		newServeCmd(flags),
		newTryCmd(flags),
		newConfigCmd(flags),
	)
	return root
}

// ExitCode maps a command error to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.As(err, new(*limiter.TooManyRequestsError)):
		return ExitRejected
	default:
		return 1
	}
}
