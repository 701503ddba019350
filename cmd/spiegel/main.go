package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/adrg/xdg"
	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"spiegel/internal/app"
	"spiegel/internal/domain"
	"spiegel/internal/hotkey"
	"spiegel/internal/store"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "spiegel",
		Short: "Clipboard history with AI categorization",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			setupLogging()
			return nil
		},
	}

	pflags := rootCmd.PersistentFlags()
	pflags.String("db", filepath.Join(xdg.DataHome, "spiegel", "spiegel.db"), "database path")
	pflags.CountP("verbose", "v", "increase log verbosity")
	pflags.BoolP("quiet", "q", false, "suppress all logs")

	viper.SetEnvPrefix("spiegel")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(saveCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(settingsCmd())
	rootCmd.AddCommand(hotkeyCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := charmlog.WarnLevel - charmlog.Level(viper.GetInt("verbose")*4)
	if viper.GetBool("quiet") {
		level = charmlog.FatalLevel + 1
	}
	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		TimeFormat: time.RFC822,
		Level:      level,
	})
	slog.SetDefault(slog.New(logger))
}

func getStore() (*store.Store, error) {
	dbPath := viper.GetString("db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(dbPath)
}

func watchCmd() *cobra.Command {
	var (
		addr     string
		poll     time.Duration
		autoSave time.Duration
		pool     int
		manual   bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Run the capture daemon (watcher, hotkey, API server)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := viper.GetString("db")
			if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
				return fmt.Errorf("create db dir: %w", err)
			}

			a, err := app.New(app.Config{
				DBPath:       dbPath,
				Addr:         addr,
				PollInterval: poll,
				AutoSaveWait: autoSave,
				EnrichPool:   pool,
				AutoCapture:  !manual,
			})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			slog.Info("spiegel watch starting", "db", dbPath, "addr", addr)
			return a.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:4816", "API server address")
	cmd.Flags().DurationVar(&poll, "poll", 400*time.Millisecond, "clipboard poll interval")
	cmd.Flags().DurationVar(&autoSave, "session-timeout", 30*time.Second, "capture session auto-save timeout (0 disables)")
	cmd.Flags().IntVar(&pool, "enrich-workers", 3, "concurrent enrichment requests")
	cmd.Flags().BoolVar(&manual, "manual", false, "capture only via hotkey, not on every clipboard change")
	return cmd
}

func listCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captured clips, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.ListItems()
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("No clips yet. Run 'spiegel watch' to start capturing.")
				return nil
			}

			for i, it := range items {
				if limit > 0 && i >= limit {
					break
				}
				printItemLine(it)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of clips to show")
	return cmd
}

func saveCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "save [content]",
		Short: "Save a text clip directly",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if category == "" {
				category = domain.CategoryFallback
			}
			item, err := s.CreateItem(domain.Item{
				Content:  domain.Text(strings.Join(args, " ")),
				Category: category,
			})
			if err != nil {
				return err
			}

			fmt.Printf("Saved %s\n", item.ID[:8])
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "category to store")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a clip by id (or unique id prefix)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := resolveID(s, args[0])
			if err != nil {
				return err
			}
			if err := s.DeleteItem(id); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", id[:8])
			return nil
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search clips",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			items, err := s.SearchItems(args[0])
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Println("No matching clips found.")
				return nil
			}
			for _, it := range items {
				printItemLine(it)
			}
			return nil
		},
	}
}

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Read and write settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [key]",
		Short: "Print one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			value, ok, err := s.GetSetting(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("setting not found: %s", args[0])
			}
			fmt.Println(value)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key] [value]",
		Short: "Write one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.SetSetting(args[0], args[1])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print all settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			all, err := s.AllSettings()
			if err != nil {
				return err
			}
			for k, v := range all {
				fmt.Printf("%s=%s\n", k, v)
			}
			return nil
		},
	})

	return cmd
}

func hotkeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hotkey",
		Short: "Manage the global capture hotkey",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test [binding]",
		Short: "Validate a hotkey binding string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := hotkey.Parse(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ok: %s\n", b)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [binding]",
		Short: "Validate and persist the capture hotkey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := hotkey.Test(args[0]); err != nil {
				return err
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.SetSetting(store.SettingHotkey, args[0]); err != nil {
				return err
			}
			fmt.Printf("Hotkey set to %s (restart the daemon to apply)\n", args[0])
			return nil
		},
	})

	return cmd
}

func resolveID(s *store.Store, prefix string) (string, error) {
	items, err := s.ListItems()
	if err != nil {
		return "", err
	}
	var match string
	for _, it := range items {
		if strings.HasPrefix(it.ID, prefix) {
			if match != "" {
				return "", fmt.Errorf("ambiguous id prefix: %s", prefix)
			}
			match = it.ID
		}
	}
	if match == "" {
		return "", fmt.Errorf("clip not found: %s", prefix)
	}
	return match, nil
}

func printItemLine(it domain.Item) {
	category := it.Category
	if category == "" {
		category = domain.CategoryFallback
	}
	fmt.Printf("%s  %-16s %s\n", it.ID[:8], category, it.Content.Preview(60))
}
