package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/Lichas/wabridge/internal/config"
	"github.com/Lichas/wabridge/internal/cron"
	"github.com/Lichas/wabridge/internal/logging"
	"github.com/Lichas/wabridge/internal/media"
	"github.com/spf13/cobra"
)

func init() {
	cronCmd.AddCommand(cronListCmd)
	cronCmd.AddCommand(cronRunCmd)
}

// cronCmd cron 根命令
var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect and run media maintenance jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List maintenance jobs and their schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, _, err := newMaintenance()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tSCHEDULE")
		for _, job := range svc.Status().Jobs {
			fmt.Fprintf(w, "%s\t%s\n", job.Name, job.Schedule)
		}
		return w.Flush()
	},
}

var cronRunCmd = &cobra.Command{
	Use:   "run <job>",
	Short: "Run a maintenance job once against the media directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Init(config.GetDataDir()); err != nil {
			fmt.Printf("⚠ logging init error: %v\n", err)
		}

		svc, cache, err := newMaintenance()
		if err != nil {
			return err
		}
		defer cache.Close()

		result, err := svc.RunNow(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("job %s failed: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s: %s\n", args[0], result)
		return nil
	},
}

// newMaintenance builds the job set serve uses, over a cache with no
// transport. Only the on-disk cleanup has an effect outside a running server.
func newMaintenance() (*cron.Service, *media.Cache, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cache := media.NewCache(media.Options{
		Root:         cfg.Media.Root,
		PublicPrefix: cfg.Media.PublicPrefix,
	}, nil, nil)

	svc := cron.NewService()
	if err := cron.RegisterMediaMaintenance(svc, cache, cfg.Media.SweepSchedule, cfg.Media.Retention()); err != nil {
		cache.Close()
		return nil, nil, err
	}
	return svc, cache, nil
}
