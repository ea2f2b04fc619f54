package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/clock"
	"quiz-session-service/internal/config"
)

// NewSweepCmd runs a single expired-session check and exits. Intended for
// an external scheduler (cron) as a backstop to the in-server sweeper: it
// calls the same idempotent finish procedure, so overlap is harmless.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Finish sessions whose clocks have expired",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			if cfg.Redis.Addr == "" {
				return fmt.Errorf("sweep requires redis; session state is not shared otherwise")
			}

			stores, err := buildStores(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer stores.close()

			orch := app.NewOrchestrator(app.OrchestratorConfig{
				Sessions:  stores.sessions,
				Snapshots: stores.snapshots,
				Clock:     clock.NewAuthority(),
				Notifier:  app.NewNotifier(),
				Logger:    logger,
			})
			return orch.CheckExpired(cmd.Context())
		},
	}
}
