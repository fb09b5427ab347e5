package cli

import (
	"github.com/spf13/cobra"
)

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Set the watch server password",
	Long: `Prompts for a new watch server password and saves its argon2id hash
to .clave/config.yaml. Existing login tokens stay valid until the server
restarts.`,
	Args: cobra.NoArgs,
	RunE: runPasswd,
}

func init() {
	rootCmd.AddCommand(passwdCmd)
}

func runPasswd(cmd *cobra.Command, args []string) error {
	base, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	return setServerPassword(base, cfg, cmd.OutOrStdout())
}
