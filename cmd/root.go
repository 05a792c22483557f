package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jsperry/triage/internal/devin"
	"github.com/jsperry/triage/internal/github"
	"github.com/jsperry/triage/internal/output"
	"github.com/jsperry/triage/internal/sessions"
	"github.com/jsperry/triage/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store

	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "triage",
	Short: "Drive remote AI agent sessions against GitHub issues",
	Long: `triage orchestrates remote agent sessions for GitHub issue triage.
It scopes issues into implementation plans with confidence scores,
executes approved plans into pull requests, and tracks every session
in a local database.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/triage/config.yaml)")
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "triage")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("TRIAGE")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultConfigDir := filepath.Join(home, ".config", "triage")

	viper.SetDefault("db_path", filepath.Join(defaultConfigDir, "triage.db"))
	viper.SetDefault("devin.api_key", "")
	viper.SetDefault("devin.api_url", "https://api.devin.ai/v1")
	viper.SetDefault("github.token", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	viper.SetDefault("poll.interval", 15)
	viper.SetDefault("poll.timeout", 1800)
	viper.SetDefault("poll.max_interval", 30)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

// getDevinClient builds the remote session client from config.
func getDevinClient() (*devin.Client, error) {
	apiKey := viper.GetString("devin.api_key")
	if apiKey == "" {
		return nil, fmt.Errorf("devin.api_key is not set (config file or TRIAGE_DEVIN_API_KEY)")
	}
	return devin.NewClient(devin.Config{
		APIKey:  apiKey,
		BaseURL: viper.GetString("devin.api_url"),
	}), nil
}

// getGitHubClient builds the GitHub client from config.
func getGitHubClient() (*github.Client, error) {
	token := viper.GetString("github.token")
	if token == "" {
		return nil, fmt.Errorf("github.token is not set (config file or TRIAGE_GITHUB_TOKEN)")
	}
	return github.NewClient(token), nil
}

// getManager wires the session lifecycle manager with configured poll
// settings.
func getManager() (*sessions.Manager, error) {
	s, err := getStore()
	if err != nil {
		return nil, err
	}
	agent, err := getDevinClient()
	if err != nil {
		return nil, err
	}
	gh, err := getGitHubClient()
	if err != nil {
		return nil, err
	}

	m := sessions.NewManager(s, agent, gh)
	if v := viper.GetInt("poll.interval"); v > 0 {
		m.PollInterval = time.Duration(v) * time.Second
	}
	if v := viper.GetInt("poll.timeout"); v > 0 {
		m.PollTimeout = time.Duration(v) * time.Second
	}
	if v := viper.GetInt("poll.max_interval"); v > 0 {
		m.PollMaxInterval = time.Duration(v) * time.Second
	}
	return m, nil
}
