package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logo    = `📱`
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "wabridge",
	Short: "wabridge - WhatsApp Web session bridge",
	Long:  fmt.Sprintf("%s wabridge - forwards a WhatsApp Web session to local subscribers and caches its media", logo),
}

// Execute 执行根命令
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(onboardCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(bindCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(cronCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "%s wabridge v%s\n", logo, version)
	},
}
