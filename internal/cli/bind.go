package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/config"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
)

var (
	bindBridgeFlag string
	bindTimeoutSec int
)

func init() {
	bindCmd.Flags().StringVar(&bindBridgeFlag, "bridge", "", "Bridge WebSocket URL (default from config)")
	bindCmd.Flags().IntVar(&bindTimeoutSec, "timeout", 180, "Timeout seconds to wait for QR/connection")
}

// bindCmd 扫码绑定
var bindCmd = &cobra.Command{
	Use:   "bind",
	Short: "Pair the WhatsApp session by scanning a QR code in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		bridgeURL := bindBridgeFlag
		if bridgeURL == "" {
			bridgeURL = cfg.Bridge.URL
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(bindTimeoutSec)*time.Second)
		defer cancel()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s WhatsApp bridge: %s\n", logo, bridgeURL)
		fmt.Fprintln(out, "Waiting for QR code...")

		bridge := channels.NewWhatsAppBridge(channels.BridgeOptions{
			URL:            bridgeURL,
			RequestTimeout: cfg.Bridge.Timeout(),
		})
		defer bridge.Close()

		events, err := bridge.Connect(ctx)
		if err != nil {
			return fmt.Errorf("failed to connect to bridge: %w", err)
		}

		if err := waitForPairing(ctx, events, out); err != nil {
			return err
		}

		if cfg.Bridge.URL != bridgeURL {
			cfg.Bridge.URL = bridgeURL
			if err := config.SaveConfig(cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Fprintf(out, "Config saved: %s\n", config.GetConfigPath())
		}
		return nil
	},
}

// waitForPairing renders each new QR code until the session is ready.
func waitForPairing(ctx context.Context, events <-chan channels.Event, out io.Writer) error {
	lastQR := ""
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for QR/connection")
		case evt, ok := <-events:
			if !ok {
				return fmt.Errorf("bridge connection closed")
			}
			switch evt.Type {
			case channels.EventQR:
				if evt.QR == "" || evt.QR == lastQR {
					continue
				}
				lastQR = evt.QR
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Scan this QR code with WhatsApp (Linked Devices):")
				fmt.Fprintln(out)
				qrterminal.GenerateHalfBlock(evt.QR, qrterminal.L, out)
			case channels.EventAuthenticated:
				fmt.Fprintln(out, "✓ Authenticated, loading chats...")
			case channels.EventLoading:
				fmt.Fprintf(out, "  loading %d%% %s\n", evt.Percent, evt.Text)
			case channels.EventReady:
				fmt.Fprintln(out, "\n✅ WhatsApp connected.")
				return nil
			case channels.EventAuthFailure:
				return fmt.Errorf("authentication failed: %s", evt.Reason)
			case channels.EventDisconnected:
				return fmt.Errorf("bridge disconnected: %s", evt.Reason)
			}
		}
	}
}
