package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TobiSchelling/ftdigest/internal/config"
	"github.com/TobiSchelling/ftdigest/internal/database"
	"github.com/TobiSchelling/ftdigest/internal/pipeline"
	"github.com/TobiSchelling/ftdigest/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ftdigest",
	Short:   "Ranked digests from a subscription news site",
	Long:    "ftdigest logs into a news site with institutional credentials, scrapes the configured sections, ranks articles against a keyword rule set and renders a digest.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		// Credentials may live in a local .env during development.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			log.Printf("loading .env: %v", err)
		}

		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(digestCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sessionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("ftdigest", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/ftdigest/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure sections, then export the credential variables it names.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and session status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Articles:")
		fmt.Printf("  Total stored: %d\n", stats.TotalArticles)
		fmt.Printf("  Scored: %d\n", stats.ScoredArticles)
		fmt.Printf("  Paywalled teasers: %d\n", stats.PaywalledTeasers)
		fmt.Println("\nOutput:")
		fmt.Printf("  Digests: %d\n", stats.Digests)
		fmt.Printf("  Saved sessions: %d\n", stats.SavedSessions)
		return nil
	},
}

// --- list command ---

var listPageToken string

var listCmd = &cobra.Command{
	Use:   "list [section]",
	Short: "List one page of a section's articles",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db)
		if err != nil {
			return err
		}
		defer pipe.Close()

		sections := pipe.Extractor().Sections()
		if len(args) == 0 {
			fmt.Println("Configured sections:")
			for _, s := range sections {
				fmt.Printf("  %s\n", s)
			}
			return nil
		}

		listing, err := pipe.Extractor().ListArticles(context.Background(), args[0], listPageToken)
		if err != nil {
			return err
		}

		for _, s := range listing.Summaries {
			fmt.Printf("  %s\n    %s\n", s.Headline, s.URL)
		}
		if listing.NextPage != "" {
			fmt.Printf("\nNext page: ftdigest list %s --page %s\n", args[0], listing.NextPage)
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listPageToken, "page", "", "Page token from a previous listing")
}

// --- fetch command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [url]",
	Short: "Fetch, store and print a single article",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db)
		if err != nil {
			return err
		}
		defer pipe.Close()

		article, err := pipe.Extractor().FetchArticle(context.Background(), args[0])
		if err != nil {
			return err
		}
		if err := db.UpsertArticle(*article); err != nil {
			return err
		}

		fmt.Printf("%s\n", article.Headline)
		if article.Standfirst != "" {
			fmt.Printf("%s\n", article.Standfirst)
		}
		if article.Author != nil {
			fmt.Printf("By %s\n", *article.Author)
		}
		if !article.Date.IsZero() {
			fmt.Printf("Published %s\n", article.Date.Format("2 Jan 2006"))
		}
		if article.Available {
			fmt.Printf("\n%s\n", article.Body())
		} else {
			fmt.Println("\n[full text behind the paywall]")
		}
		return nil
	},
}

// --- run command ---

var (
	dryRun      bool
	runSections []string
	maxPages    int
	refetch     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the full pipeline: list -> fetch -> rank -> compose",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db)
		if err != nil {
			return err
		}
		defer pipe.Close()

		opts := pipeline.Options{
			Sections: runSections,
			MaxPages: maxPages,
			Refetch:  refetch,
		}

		var result *pipeline.Result
		if dryRun {
			result = pipe.DryRun(opts)
		} else {
			result = pipe.Run(context.Background(), opts)
		}

		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/4: %s\n", i+1, step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}

		if result.Failed() {
			return fmt.Errorf("pipeline failed")
		}
		if !dryRun {
			fmt.Println("\nPipeline complete! Run 'ftdigest serve' to view the digest.")
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show what would be done without executing")
	runCmd.Flags().StringSliceVar(&runSections, "sections", nil, "Restrict the run to these sections")
	runCmd.Flags().IntVar(&maxPages, "max-pages", 1, "Listing pages per section")
	runCmd.Flags().BoolVar(&refetch, "refetch", false, "Re-fetch articles that are already stored")
}

// --- digest command ---

var digestCmd = &cobra.Command{
	Use:   "digest",
	Short: "Print the latest digest as Markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		d, err := db.GetLatestDigest()
		if err != nil {
			return err
		}
		if d == nil {
			return fmt.Errorf("no digest yet; run 'ftdigest run' first")
		}
		fmt.Print(d.Markdown)
		if !strings.HasSuffix(d.Markdown, "\n") {
			fmt.Println()
		}
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- session command ---

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect and reset the saved login session",
}

var sessionStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session state",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db)
		if err != nil {
			return err
		}

		fmt.Printf("Session state: %s\n", pipe.Sessions().State())
		stats, err := db.GetStats()
		if err != nil {
			return err
		}
		if stats.SavedSessions > 0 {
			fmt.Println("A persisted session blob is available and will be probed on the next run.")
		} else {
			fmt.Println("No persisted session; the next run logs in fresh.")
		}
		return nil
	},
}

var sessionResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the lockout and the saved session blob",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		pipe, err := pipeline.New(cfg, db)
		if err != nil {
			return err
		}

		pipe.Sessions().Reset()
		fmt.Println("Session cleared. The next run starts from a fresh login.")
		return nil
	},
}

func init() {
	sessionCmd.AddCommand(sessionStatusCmd)
	sessionCmd.AddCommand(sessionResetCmd)
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "ftdigest.db")
	return database.Open(dbPath)
}
