package command

import (
	"os"
	"runtime"
	"strings"

	"github.com/frantjc/renpack"
	xslice "github.com/frantjc/x/slice"
	"github.com/spf13/cobra"
)

// NewRenpack returns the root command for
// renpack which acts as its CLI entrypoint.
func NewRenpack() *cobra.Command {
	var (
		verbosity int
		cmd       = &cobra.Command{
			Use:           "renpack",
			Version:       renpack.SemVer(),
			SilenceErrors: true,
			SilenceUsage:  true,
			PersistentPreRun: func(cmd *cobra.Command, _ []string) {
				if verbose := os.Getenv("RENPACK_VERBOSE"); verbose != "" && xslice.Some([]string{"1", "y", "yes", "true", "t"}, func(s string, _ int) bool {
					return strings.EqualFold(s, verbose)
				}) {
					verbosity = 2
				}

				cmd.SetContext(
					renpack.WithLogger(
						cmd.Context(), renpack.NewLogger().V(2-verbosity),
					),
				)
			},
		}
	)

	cmd.SetVersionTemplate("{{ .Name }}{{ .Version }} " + runtime.Version() + "\n")
	cmd.PersistentFlags().CountVarP(&verbosity, "verbose", "V", "verbosity for renpack")

	cmd.AddCommand(
		newCompress(),
		newInspect(),
		newVerify(),
		newExtract(),
		newRepack(),
		newAlign(),
		newSign(),
		newKeys(),
	)

	return cmd
}
