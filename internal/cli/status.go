package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/config"
	"github.com/spf13/cobra"
)

// statusCmd 状态命令
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and the running server's session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := config.GetConfigPath()
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s wabridge Status\n\n", logo)

		if _, err := os.Stat(configPath); err == nil {
			fmt.Fprintf(out, "Config: %s ✓\n", configPath)
		} else {
			fmt.Fprintf(out, "Config: %s ✗ (not found)\n", configPath)
		}
		if _, err := os.Stat(cfg.Media.Root); err == nil {
			fmt.Fprintf(out, "Media: %s ✓\n", cfg.Media.Root)
		} else {
			fmt.Fprintf(out, "Media: %s ✗ (not found)\n", cfg.Media.Root)
		}
		fmt.Fprintf(out, "Bridge: %s\n", cfg.Bridge.URL)
		fmt.Fprintf(out, "Listen: %s\n", cfg.Server.Addr())

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		status, err := fetchServerStatus(ctx, localURL(cfg), tokenConfig(cfg))
		if err != nil {
			fmt.Fprintf(out, "\nServer: ✗ not reachable (%v)\n", err)
			return nil
		}

		fmt.Fprintln(out, "\nServer: ✓ running")
		fmt.Fprintf(out, "  WhatsApp: %s\n", status.WhatsApp.State)
		fmt.Fprintf(out, "  Subscribers: %d (%d events published)\n", status.Subscribers, status.Published)
		if status.Media != nil {
			fmt.Fprintf(out, "  Media: %d tracked, %d fetching, %d ready, %d failed\n",
				status.Media.Total, status.Media.Fetching, status.Media.Ready, status.Media.Failed)
		}
		return nil
	},
}

type serverStatus struct {
	WhatsApp struct {
		State string `json:"state"`
	} `json:"whatsapp"`
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Media       *struct {
		Total    int `json:"total"`
		Fetching int `json:"fetching"`
		Ready    int `json:"ready"`
		Failed   int `json:"failed"`
	} `json:"media"`
}

// localURL 0.0.0.0 监听时改为回环地址访问
func localURL(cfg *config.Config) string {
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port)
}

func fetchServerStatus(ctx context.Context, baseURL string, tokenCfg auth.TokenConfig) (*serverStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	if tokenCfg.Enabled() {
		token, err := auth.CreateToken("wabridge-cli", tokenCfg)
		if err != nil {
			return nil, fmt.Errorf("mint token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	var status serverStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}
