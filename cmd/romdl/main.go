package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"romdl/internal/app"
	"romdl/internal/config"
	"romdl/internal/romdl"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

// loadConfig reads .env files, then the config file, then applies
// environment overrides.
func loadConfig() (*config.Config, map[string]string, error) {
	if err := app.LoadEnv(".env"); err != nil {
		return nil, nil, err
	}
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, nil, fmt.Errorf("getting defaults: %w", err)
	}
	if err := app.LoadEnv(filepath.Join(defaults["base_dir"], ".env")); err != nil {
		return nil, nil, err
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, nil, fmt.Errorf("reading config: %w", err)
	}
	app.ApplyEnv(cfg)
	return cfg, defaults, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
func newApp(ctx context.Context, opts app.Options) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}

	opts.Verbose = verbose
	a, err := app.NewApp(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func parseRomIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid rom id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

var rootCmd = &cobra.Command{
	Use:          "romdl",
	Short:        "Download ROMs from a RomM server into platform folders",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.Server.URL, _ = cmd.Flags().GetString("server")
		cfg.Server.SessionToken, _ = cmd.Flags().GetString("token")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		if cfg.Server.URL == "" {
			fmt.Printf("Set server.url in the config or %s before downloading\n", app.EnvServerURL)
		}
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, defaults, err := loadConfig()
		if err != nil {
			return err
		}

		token := "(not set)"
		if cfg.Server.SessionToken != "" {
			token = "(set)"
		}
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Server:        %s\n", cfg.Server.URL)
		fmt.Printf("Session Token: %s\n", token)
		fmt.Printf("Database:      %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Staging:       %s %s\n", cfg.Staging.Type, cfg.Staging.TempDir)
		fmt.Printf("Archives:      %v\n", cfg.Download.ArchiveSuffixes)
		fmt.Printf("Ignore:        %v\n", cfg.Download.Ignore)
		return nil
	},
}

// folder command
var folderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Manage platform folders",
}

var folderListCmd = &cobra.Command{
	Use:   "list",
	Short: "List granted platform folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if base, ok, err := a.BaseFolder(); err != nil {
			return err
		} else if ok {
			fmt.Printf("Base folder: %s\n\n", base)
		}

		grants := a.Folders()
		if len(grants) == 0 {
			fmt.Println("No platform folders granted.")
			return nil
		}
		for _, g := range grants {
			fmt.Printf("%-12s %-24s %s\n", g.Key, g.DisplayName, g.LocationHandle)
		}
		return nil
	},
}

var folderSetCmd = &cobra.Command{
	Use:   "set KEY LOCATION",
	Short: "Grant a folder for a platform",
	Long:  "Grant a folder for a platform. LOCATION is a local directory or a file://, s3:// or mem:// URL.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		name, _ := cmd.Flags().GetString("name")
		g, err := a.SaveFolder(cmd.Context(), args[0], name, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Granted %s -> %s\n", g.Key, g.LocationHandle)
		return nil
	},
}

var folderRemoveCmd = &cobra.Command{
	Use:   "rm KEY",
	Short: "Revoke the folder for a platform",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.RemoveFolder(args[0]); err != nil {
			return err
		}
		fmt.Printf("Removed %s\n", args[0])
		return nil
	},
}

var folderClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Revoke every platform folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ClearFolders(); err != nil {
			return err
		}
		fmt.Println("All platform folders removed.")
		return nil
	},
}

var folderBaseCmd = &cobra.Command{
	Use:   "base [LOCATION]",
	Short: "Show or set the base folder new platform folders are created in",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		if unset, _ := cmd.Flags().GetBool("unset"); unset {
			if err := a.RemoveBaseFolder(); err != nil {
				return err
			}
			fmt.Println("Base folder removed.")
			return nil
		}

		if len(args) == 1 {
			handle, err := a.SetBaseFolder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Base folder set to %s\n", handle)
			return nil
		}

		base, ok, err := a.BaseFolder()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("No base folder set.")
			return nil
		}
		fmt.Println(base)
		return nil
	},
}

var folderCreateCmd = &cobra.Command{
	Use:   "create KEY",
	Short: "Create a platform folder under the base folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		name, _ := cmd.Flags().GetString("name")
		g, err := a.CreateFolder(cmd.Context(), args[0], name)
		if err != nil {
			return err
		}
		fmt.Printf("Created %s -> %s\n", g.Key, g.LocationHandle)
		return nil
	},
}

var folderSearchCmd = &cobra.Command{
	Use:   "search KEY",
	Short: "Find an existing platform folder under the base folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		name, _ := cmd.Flags().GetString("name")
		g, ok, err := a.SearchFolder(cmd.Context(), args[0], name)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Printf("No folder found for %s\n", args[0])
			return nil
		}
		fmt.Printf("Found %s -> %s\n", g.Key, g.LocationHandle)
		return nil
	},
}

// prefs command
var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Manage download preferences",
}

var prefsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show download preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.Preferences()
		fmt.Printf("concurrency: %d\n", p.ConcurrencyLimit())
		fmt.Printf("unzip:       %t\n", p.UnzipOnDownload())
		return nil
	},
}

var prefsSetCmd = &cobra.Command{
	Use:       "set NAME VALUE",
	Short:     "Set a download preference (concurrency 1-5, unzip true|false)",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"concurrency", "unzip"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		p := a.Preferences()
		switch args[0] {
		case "concurrency":
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid concurrency %q", args[1])
			}
			if err := p.SetConcurrencyLimit(n); err != nil {
				return err
			}
		case "unzip":
			v, err := strconv.ParseBool(args[1])
			if err != nil {
				return fmt.Errorf("invalid unzip value %q", args[1])
			}
			if err := p.SetUnzipOnDownload(v); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown preference %q", args[0])
		}
		fmt.Printf("%s = %s\n", args[0], args[1])
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search TERM",
	Short: "Search the server catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		descs, err := a.Search(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(descs) == 0 {
			fmt.Println("No matches.")
			return nil
		}
		for _, d := range descs {
			fmt.Printf("%-8d %-10s %-10s %s\n", d.RomID, d.PlatformSlug, app.FormatBytes(d.Size), d.FileName)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check ROM_ID...",
	Short: "Report which roms are already in their platform folder",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseRomIDs(args)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		folder, _ := cmd.Flags().GetString("folder")
		results, err := a.Check(cmd.Context(), ids, folder)
		if err != nil {
			return err
		}
		for _, r := range results {
			state := "missing"
			switch {
			case !r.Granted:
				state = "no folder for " + r.FolderKey
			case r.Downloaded:
				state = "downloaded"
			}
			fmt.Printf("%-8d %-40s %s\n", r.Descriptor.RomID, r.Descriptor.FileName, state)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download ROM_ID...",
	Short: "Download roms into their platform folders",
	Long: "Download roms into their platform folders. Missing folders are found or created " +
		"under the base folder. Interrupting cancels the remaining downloads.",
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseRomIDs(args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		status := newStatusLine(os.Stdout)
		a, err := newApp(ctx, app.Options{Notifier: app.NewPrintNotifier(status), Stderr: status})
		if err != nil {
			return err
		}
		defer a.Close()

		folder, _ := cmd.Flags().GetString("folder")
		items, err := a.DownloadRoms(ctx, ids, folder, status.Update)
		status.Done()
		if errors.Is(err, context.Canceled) {
			fmt.Println("Interrupted.")
		} else if err != nil {
			return err
		}

		var failed int
		for _, it := range items {
			if it.Status != romdl.StatusCompleted {
				failed++
			}
		}
		fmt.Printf("%d of %d downloads completed\n", len(items)-failed, len(items))
		if failed > 0 {
			return fmt.Errorf("%d downloads did not complete", failed)
		}
		return err
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show finished downloads",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := a.History(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No downloads yet.")
			return nil
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s  %-10s %-8s %-32s %s", e.FinishedAt.Local().Format(time.DateTime), e.Status, e.FolderKey, e.FileName, app.FormatBytes(e.Bytes))
			if e.Error != "" {
				line += "  " + e.Error
			}
			fmt.Println(line)
		}
		return nil
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old history entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()

		age, _ := cmd.Flags().GetDuration("older-than")
		n, err := a.PruneHistory(age)
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d entries\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log everything to stderr")

	// config
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("server", "", "RomM server URL")
	configInitCmd.Flags().String("token", "", "RomM session token")

	// folder
	folderCmd.AddCommand(folderListCmd)
	folderCmd.AddCommand(folderSetCmd)
	folderCmd.AddCommand(folderRemoveCmd)
	folderCmd.AddCommand(folderClearCmd)
	folderCmd.AddCommand(folderBaseCmd)
	folderCmd.AddCommand(folderCreateCmd)
	folderCmd.AddCommand(folderSearchCmd)
	folderSetCmd.Flags().String("name", "", "Display name for the platform")
	folderCreateCmd.Flags().String("name", "", "Display name for the platform")
	folderSearchCmd.Flags().String("name", "", "Also match folders with this name")
	folderBaseCmd.Flags().Bool("unset", false, "Forget the base folder")

	// prefs
	prefsCmd.AddCommand(prefsListCmd)
	prefsCmd.AddCommand(prefsSetCmd)

	checkCmd.Flags().StringP("folder", "f", "", "Platform folder key (default: each rom's platform)")
	downloadCmd.Flags().StringP("folder", "f", "", "Platform folder key (default: each rom's platform)")
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of downloads to show")
	historyCmd.AddCommand(historyPruneCmd)
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete entries finished before this long ago")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(folderCmd)
	rootCmd.AddCommand(prefsCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(historyCmd)
}
