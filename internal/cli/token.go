package cli

import (
	"errors"
	"fmt"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/config"
	"github.com/spf13/cobra"
)

var tokenSubject string

func init() {
	tokenCmd.Flags().StringVarP(&tokenSubject, "subject", "s", "dashboard", "Client name stored in the token")
}

// tokenCmd 签发访问令牌
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API and subscriber sockets",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		token, err := auth.CreateToken(tokenSubject, tokenConfig(cfg))
		if err != nil {
			if errors.Is(err, auth.ErrMissingSecret) {
				return fmt.Errorf("server.secret is not set in %s; tokens are not required", config.GetConfigPath())
			}
			return fmt.Errorf("failed to create token: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
