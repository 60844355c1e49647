package main

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/david325345/animetoday-docker/config"
)

type commandContext struct {
	configFlag *string

	once     sync.Once
	settings config.Settings
	err      error
}

// loadSettings reads .env (when present), then the settings file with environment overrides.
func (c *commandContext) loadSettings() (config.Settings, error) {
	c.once.Do(func() {
		_ = godotenv.Load(".env")

		path := strings.TrimSpace(*c.configFlag)
		if path == "" {
			path = os.Getenv("ANIMETODAY_CONFIG")
		}
		if path == "" {
			path = filepath.Join("cache", "settings.json")
		}

		mgr := config.NewManager(path)
		if err := mgr.EnsureDir(); err != nil {
			c.err = err
			return
		}
		c.settings, c.err = mgr.Load()
	})
	return c.settings, c.err
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "animetoday",
		Short:         "Today's anime schedule as a Stremio addon with Nyaa and debrid streams",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := ctx.loadSettings()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), ctx)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Settings file path (default cache/settings.json)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newRefreshCommand(ctx))
	rootCmd.AddCommand(newResolveCommand(ctx))
	rootCmd.AddCommand(newSearchCommand(ctx))
	return rootCmd
}
