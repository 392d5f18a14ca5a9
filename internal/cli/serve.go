package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Lichas/wabridge/internal/auth"
	"github.com/Lichas/wabridge/internal/bus"
	"github.com/Lichas/wabridge/internal/channels"
	"github.com/Lichas/wabridge/internal/config"
	"github.com/Lichas/wabridge/internal/cron"
	"github.com/Lichas/wabridge/internal/ingest"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/Lichas/wabridge/internal/service"
	"github.com/Lichas/wabridge/internal/session"
	"github.com/Lichas/wabridge/internal/webui"
	"github.com/gin-gonic/gin"
	"github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const tokenIssuer = "wabridge"

var (
	servePort       int
	serveQRTerminal bool
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (default from config)")
	serveCmd.Flags().BoolVar(&serveQRTerminal, "qr-terminal", false, "Also print pairing QR codes in the terminal")
}

// serveCmd 启动桥接服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Connect to the WhatsApp bridge and serve subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if _, err := logging.Init(config.GetDataDir()); err != nil {
			fmt.Printf("⚠ logging init error: %v\n", err)
		}
		defer logging.Get().Close()
		gin.SetMode(cfg.Server.GinMode)

		if err := config.EnsureMediaRoot(cfg); err != nil {
			return fmt.Errorf("failed to create media root: %w", err)
		}

		fmt.Printf("%s Starting wabridge on %s...\n\n", logo, cfg.Server.Addr())
		gatewayf("serve starting addr=%s bridge=%s media=%s", cfg.Server.Addr(), cfg.Bridge.URL, cfg.Media.Root)

		events := bus.NewBroadcaster(cfg.Server.SubscriberBuffer)
		bridge := channels.NewWhatsAppBridge(channels.BridgeOptions{
			URL:            cfg.Bridge.URL,
			RequestTimeout: cfg.Bridge.Timeout(),
			EventBuffer:    cfg.Bridge.EventBuffer,
		})
		cache := media.NewCache(media.Options{
			Root:         cfg.Media.Root,
			PublicPrefix: cfg.Media.PublicPrefix,
			Concurrency:  cfg.Media.Concurrency,
			FetchTimeout: cfg.Media.Timeout(),
		}, bridge, events)

		manager := session.NewManager(bridge, events)
		pipeline := ingest.New(events, cache)
		manager.SetMessageHandler(pipeline.OnMessage)
		manager.SetMessageCreateHandler(pipeline.OnMessageCreate)
		if serveQRTerminal {
			manager.SetQRHandler(func(raw string) {
				fmt.Println("\nScan this QR code with WhatsApp (Linked Devices):")
				qrterminal.GenerateHalfBlock(raw, qrterminal.L, os.Stdout)
			})
		}

		cronService := cron.NewService()
		if err := cron.RegisterMediaMaintenance(cronService, cache, cfg.Media.SweepSchedule, cfg.Media.Retention()); err != nil {
			return fmt.Errorf("failed to register maintenance jobs: %w", err)
		}

		tokenCfg := tokenConfig(cfg)
		if tokenCfg.Enabled() {
			fmt.Println("✓ Bearer tokens required (mint one with `wabridge token`)")
		}

		web := webui.NewServer(webui.Deps{
			API:          service.NewApp(manager, cache),
			Bus:          events,
			Media:        cache,
			Bridge:       bridge,
			Cron:         cronService,
			TokenConfig:  tokenCfg,
			AllowOrigins: cfg.Server.AllowOrigins,
			MediaRoot:    cfg.Media.Root,
			PublicPrefix: cfg.Media.PublicPrefix,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return web.Start(gctx, cfg.Server.Host, cfg.Server.Port)
		})
		g.Go(func() error {
			if err := manager.Start(gctx); err != nil {
				return err
			}
			fmt.Printf("✓ Connected to bridge %s\n", cfg.Bridge.URL)
			select {
			case <-manager.Done():
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("whatsapp session ended in state %s", manager.Status().State)
			case <-gctx.Done():
				return nil
			}
		})

		if err := cronService.Start(gctx); err != nil {
			fmt.Printf("⚠ Failed to start cron service: %v\n", err)
			cronf("cron start error: %v", err)
		}

		fmt.Println("✓ wabridge ready")
		fmt.Println("\nPress Ctrl+C to stop")

		err = g.Wait()

		fmt.Println("\nShutting down...")
		cronService.Stop()
		_ = manager.Close()
		cache.Close()
		events.Close()

		if err != nil && !errors.Is(err, context.Canceled) {
			gatewayf("serve stopped: %v", err)
			return err
		}
		gatewayf("serve shutdown")
		return nil
	},
}

func tokenConfig(cfg *config.Config) auth.TokenConfig {
	return auth.TokenConfig{
		Secret: cfg.Server.Secret,
		Expiry: cfg.Server.TokenExpiry(),
		Issuer: tokenIssuer,
	}
}

func gatewayf(format string, args ...any) {
	if lg := logging.Get(); lg != nil && lg.Gateway != nil {
		lg.Gateway.Printf(format, args...)
	}
}

func cronf(format string, args ...any) {
	if lg := logging.Get(); lg != nil && lg.Cron != nil {
		lg.Cron.Printf(format, args...)
	}
}
