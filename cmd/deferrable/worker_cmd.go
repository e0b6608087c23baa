package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	petname "github.com/dustinkirkland/golang-petname"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/rs/zerolog"

	"github.com/deferrable-run/deferrable/pkg/config"
	"github.com/deferrable-run/deferrable/pkg/deferrable"
	"github.com/deferrable-run/deferrable/pkg/httpapi"
)

func newWorkerCmd() *cobra.Command {
	var groups []string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run worker loops popping and executing items for one or more groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags(), resolveConfigFile(cfgFile))
			if err != nil {
				return err
			}
			if len(groups) == 0 {
				groups = []string{"default"}
			}
			return runWorker(cmd.Context(), cfg, groups)
		},
	}
	cmd.Flags().StringSliceVar(&groups, "group", nil, "queue group(s) to consume; defaults to 'default'")
	return cmd
}

func runWorker(ctx context.Context, cfg config.Config, groups []string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := newLogger(cfg)
	instance := petname.Generate(2, "-")
	printBanner(instance, groups)
	log.Info().Str("instance", instance).Strs("groups", groups).Msg("worker starting")

	engine, err := buildEngine(cfg, log)
	if err != nil {
		return err
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		var auth httpapi.AuthFinder = httpapi.NilAuthFinder{}
		if cfg.JWTSecret != "" {
			auth = httpapi.NewJWTAuthFinder(cfg.JWTSecret)
		}
		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: httpapi.NewRouter(engine, auth)}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("admin http server stopped unexpectedly")
			}
		}()
	}

	group, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.WorkerConcurrency; i++ {
		for _, queueGroup := range groups {
			queueGroup := queueGroup
			group.Go(func() error {
				return runOnceLoop(gctx, engine, queueGroup, cfg, log)
			})
		}
	}

	err = group.Wait()
	if httpServer != nil {
		httpServer.Close()
	}
	if err != nil && ctx.Err() == nil {
		return err
	}
	log.Info().Msg("worker shut down")
	return nil
}

// printBanner writes a short styled startup banner when stdout is an
// interactive terminal. It is silent under a non-tty (container logs,
// CI), where a color-coded box would only add noise.
func printBanner(instance string, groups []string) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 60
	}
	style := lipgloss.NewStyle().
		Bold(true).
		Padding(0, 1).
		BorderStyle(lipgloss.RoundedBorder()).
		Width(min(width-2, 60))
	fmt.Println(style.Render(fmt.Sprintf("deferrable worker %s\ngroups: %v", instance, groups)))
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func runOnceLoop(ctx context.Context, engine *deferrable.Engine, group string, cfg config.Config, log zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if _, err := engine.RunOnce(ctx, group, cfg.PopWait); err != nil {
			log.Error().Err(err).Str("group", group).Msg("RunOnce failed")
		}
	}
}
