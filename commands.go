package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/david325345/animetoday-docker/api"
	"github.com/david325345/animetoday-docker/handlers"
	"github.com/david325345/animetoday-docker/models"
	"github.com/david325345/animetoday-docker/utils/filter"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the addon HTTP server and the schedule refresh loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
}

func runServe(parent context.Context, cmdCtx *commandContext) error {
	settings, err := cmdCtx.loadSettings()
	if err != nil {
		return err
	}
	setupLogging(settings.Log)

	app, err := buildApplication(settings)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.schedule.Start(ctx); err != nil {
		return fmt.Errorf("start schedule refresh: %w", err)
	}

	addonHandler := handlers.NewAddonHandler(app.addon, app.schedule, app.engine.Configured())
	handler := api.Register(mux.NewRouter(), addonHandler, app.metrics.Handler(), settings.Server.StaticDir)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Stream listings may wait on a debrid resolution budget.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Println("🛑 Shutdown signal received, cleaning up...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	if err := app.schedule.Stop(shutdownCtx); err != nil {
		log.Printf("Schedule shutdown error: %v", err)
	}
	log.Println("✅ Shutdown complete")
	return nil
}

func newRefreshCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch today's airing schedule once and print it",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			app, err := buildApplication(settings)
			if err != nil {
				return err
			}
			if err := app.schedule.RefreshNow(cmd.Context()); err != nil {
				return err
			}

			rows := make([][]string, 0, app.schedule.Store().Len())
			for _, e := range app.schedule.Store().Entries() {
				rows = append(rows, []string{
					strconv.Itoa(e.Episode),
					e.AiringTime().Local().Format("15:04"),
					e.Key(),
					e.DisplayTitle(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Ep", "Airs", "ID", "Title"}, rows, 1))
			return nil
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <magnet>",
		Short: "Run one debrid resolution and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			app, err := buildApplication(settings)
			if err != nil {
				return err
			}
			outcome := app.engine.Resolve(cmd.Context(), args[0])
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(outcome)
		},
	}
}

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "search <title> <episode>",
		Short: "Search the torrent indexes for an episode",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			episode, err := strconv.Atoi(args[1])
			if err != nil || episode < 0 {
				return fmt.Errorf("invalid episode %q", args[1])
			}
			settings, err := ctx.loadSettings()
			if err != nil {
				return err
			}
			app, err := buildApplication(settings)
			if err != nil {
				return err
			}

			candidates := app.search.Search(cmd.Context(), args[0], episode)
			if !all {
				candidates = filter.FilterEpisode(candidates, episode)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Seeders", "Size", "Source", "Name"}, candidateRows(candidates), 1))
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Show every result, not only those matching the episode")
	return cmd
}

func candidateRows(candidates []models.TorrentCandidate) [][]string {
	rows := make([][]string, 0, len(candidates))
	for _, c := range candidates {
		size := c.Size
		if size == "" && c.SizeBytes > 0 {
			size = humanize.IBytes(uint64(c.SizeBytes))
		}
		rows = append(rows, []string{strconv.Itoa(c.Seeders), size, c.Source, c.Name})
	}
	return rows
}

// renderTable right-aligns the first rightCols columns.
func renderTable(headers []string, rows [][]string, rightCols int) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	tw.AppendHeader(header)
	for _, row := range rows {
		r := make(table.Row, len(headers))
		for i := range headers {
			r[i] = ""
			if i < len(row) {
				r[i] = row[i]
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, len(headers))
	for i := range headers {
		align := text.AlignLeft
		if i < rightCols {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{Number: i + 1, Align: align, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(configs)
	return tw.Render()
}
