package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/poma-prs/poma-static-project/pkg/buildsys"
	"github.com/poma-prs/poma-static-project/pkg/devserver"
	"github.com/poma-prs/poma-static-project/pkg/storage"
)

func newServeCmd() *cobra.Command {
	var target string
	cmd := &cobra.Command{
		Use:   "serve [key=value...]",
		Short: "Build the project, serve dist and rebuild on changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := openProject(cmd)
			if err != nil {
				return err
			}

			_, options := splitArgs(args)

			store, err := storage.Open(p.cfg.StatePath())
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, cancel := signal.NotifyContext(p.ctx, os.Interrupt)
			defer cancel()

			rebuild := func(ctx context.Context) error {
				// poma.toml and the script itself may have changed
				err := p.reload()
				if err != nil {
					return err
				}

				tasks, err := p.loadTasks(options)
				if err != nil {
					return err
				}

				ctx = buildsys.WithConfig(buildsys.WithLogger(ctx, p.logger), p.cfg)
				return buildsys.RunTasks(ctx, buildsys.RunOptions{
					ProjectRoot: p.cfg.Root,
					Config:      p.cfg,
					Store:       store,
					Jobs:        p.cfg.Jobs,
					Stdout:      cmd.OutOrStdout(),
					Stderr:      cmd.ErrOrStderr(),
				}, tasks, target)
			}

			err = rebuild(ctx)
			if err != nil {
				p.logger.Error().Err(err).Msg("Initial build failed, waiting for changes")
			}

			server := devserver.New(p.cfg, p.logger)
			eg, ctx := errgroup.WithContext(ctx)
			eg.Go(func() error {
				return server.ListenAndServe(ctx)
			})
			eg.Go(func() error {
				return devserver.Watch(ctx, p.cfg, server, rebuild)
			})

			return eg.Wait()
		},
	}
	cmd.Flags().StringVarP(&target, "task", "t", "build", "task to run on every change")

	return cmd
}
