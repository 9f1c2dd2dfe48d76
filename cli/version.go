package cli

import (
	"fmt"
	"io"

	"github.com/grovetools/layoutsync/version"
	"github.com/spf13/cobra"
)

// NewVersionCommand prints build information for component.
func NewVersionCommand(component string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: fmt.Sprintf("Print the version of %s", component),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.GetInfo()
			return Render(cmd, info, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s %s\n%s\n", component, info.Version, info)
				return err
			})
		},
	}
}
