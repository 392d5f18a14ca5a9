package cli

import (
	"fmt"
	"os"

	"github.com/Lichas/wabridge/internal/config"
	"github.com/spf13/cobra"
)

// onboardCmd 初始化命令
var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize wabridge configuration and media directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()

		// 检查配置文件是否已存在
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config already exists at %s\n", configPath)
			fmt.Print("Overwrite? (y/N): ")
			var response string
			fmt.Scanln(&response)
			if response != "y" && response != "Y" {
				return nil
			}
		}

		cfg := config.DefaultConfig()
		if err := config.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Printf("✓ Created config at %s\n", configPath)

		if err := config.EnsureMediaRoot(cfg); err != nil {
			return fmt.Errorf("failed to create media directory: %w", err)
		}
		fmt.Printf("✓ Created media directory at %s\n", cfg.Media.Root)

		fmt.Printf("\n%s wabridge is ready!\n\n", logo)
		fmt.Println("Next steps:")
		fmt.Printf("  1. Start the WhatsApp Web bridge (default %s)\n", cfg.Bridge.URL)
		fmt.Println("  2. Pair: wabridge bind")
		fmt.Println("  3. Serve: wabridge serve")
		fmt.Println("\nSet server.secret in the config to require bearer tokens.")

		return nil
	},
}
