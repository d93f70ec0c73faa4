// Command auditctl submits audits and follows their live progress.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	command := NewAuditCtlCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewAuditCtlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auditctl [command] [flags]",
		Short: "auditctl submits audits and watches their progress.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(NewCmdWatch())
	cmd.AddCommand(NewCmdSubmit())

	return cmd
}
