package commands

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/maxexplode/fastexcel/pkg/pipeline"
	"github.com/maxexplode/fastexcel/pkg/policy"
	"github.com/maxexplode/fastexcel/pkg/telemetry"
)

func newWatchCommand(root *rootOptions) *cobra.Command {
	var (
		f        importFlags
		existing bool
		events   bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>...",
		Short: "Import workbooks as they appear in directories",
		Long: `Watch directories and import every .xlsx or .xlsm file that is created
or written. Policy files are reloaded when they change. When metrics are
enabled they are served for the lifetime of the command.`,
		Example: `  fastexcel watch --existing --policy ./policies /srv/incoming`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			store, err := root.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			im, engine, err := f.importer(cmd, root, store)
			if err != nil {
				return err
			}
			if paths := f.pf.paths(root.cfg.Import.Policies); len(paths) > 0 {
				loader := policy.NewLoader(root.logger("policy-loader"))
				err := loader.Watch(ctx, paths, func(policies []policy.Policy) error {
					return engine.ReplacePolicies(ctx, policies)
				})
				if err != nil {
					return err
				}
				defer loader.StopWatching()
			}

			srv, err := root.tel.Metrics.StartMetricsServer()
			if err != nil {
				return err
			}
			if srv != nil {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Warn().Err(err).Msg("Failed to stop metrics server")
					}
				}()
			}

			if events {
				root.tel.Events.Subscribe(telemetry.JSONSubscriber(cmd.OutOrStdout()), telemetry.FilterByType(
					telemetry.EventTypeImportCompleted,
					telemetry.EventTypeImportFailed,
					telemetry.EventTypeImportSkipped,
				))
			}

			var mu sync.Mutex
			if !cmd.Flags().Changed("debounce") {
				debounce = root.cfg.Import.WatchDebounce
			}
			w := pipeline.NewWatcher(im, args, f.pipelineOptions(cmd, root),
				pipeline.WithDebounce(debounce),
				pipeline.WithExisting(existing),
				pipeline.OnResult(func(path string, res *pipeline.Result, err error) {
					if err != nil || events {
						return
					}
					mu.Lock()
					defer mu.Unlock()
					printResult(cmd, res)
				}),
			)

			err = w.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	f.register(cmd)
	cmd.Flags().BoolVar(&existing, "existing", false, "import workbooks already in the directories")
	cmd.Flags().BoolVar(&events, "events", false, "print import events as JSON lines instead of summaries")
	cmd.Flags().DurationVar(&debounce, "debounce", pipeline.DefaultDebounce, "quiet period before a changed file is imported")
	return cmd
}
