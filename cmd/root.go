package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/elearn-tools/moodlegrab/internal/auth"
	"github.com/elearn-tools/moodlegrab/internal/config"
	"github.com/elearn-tools/moodlegrab/internal/moodle"
	"github.com/elearn-tools/moodlegrab/internal/output"
	"github.com/elearn-tools/moodlegrab/internal/utils"
)

var (
	cfgFile     string
	destDir     string
	transfers   int
	connections int
	cookieJar   string
	videosJSON  string
	username    string
	password    string
	timeout     time.Duration
	kaTimeout   time.Duration
	userAgent   string
	headers     []string
	debug       bool

	cfg              config.Config
	globalHTTPConfig utils.HTTPClientConfig
)

var MoodlegrabVersion = "dev"

var rootCmd = &cobra.Command{
	Use:     "moodlegrab",
	Short:   "Moodlegrab mirrors course materials and lecture recordings from a Moodle site",
	Version: MoodlegrabVersion,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		utils.InitLogger(debug)
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd)
		if userAgent == "randomize" {
			userAgent = utils.GetRandomUserAgent()
		}
		globalHTTPConfig = utils.HTTPClientConfig{
			Timeout:   timeout,
			KATimeout: kaTimeout,
			UserAgent: userAgent,
			Headers:   utils.ParseHeaderArgs(headers),
		}
		return nil
	},
	// Running bare mirrors everything, same as the scrape subcommand.
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runScrape(); err != nil {
			fmt.Println()
			output.PrintError(fmt.Sprintf("Scrape failed: %v", err))
			os.Exit(1)
		}
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default searches working dir, XDG config dir, home)")
	rootCmd.PersistentFlags().StringVarP(&destDir, "destdir", "d", ".", "Destination directory for downloaded materials")
	rootCmd.PersistentFlags().IntVarP(&transfers, "transfers", "t", config.DefaultTransfers, "Number of parallel transfers")
	rootCmd.PersistentFlags().IntVarP(&connections, "connections", "c", config.DefaultConnections, "Number of connections per transfer")
	rootCmd.PersistentFlags().StringVarP(&cookieJar, "cookiejar", "j", config.DefaultCookieJar, "Cookie jar file (also the manual login fallback)")
	rootCmd.PersistentFlags().StringVarP(&videosJSON, "videos-json", "k", config.DefaultVideosManifest, "Resolved lecture video manifest file")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "SSO username (or MOODLEGRAB_USERNAME)")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "SSO password (or MOODLEGRAB_PASSWORD)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 3*time.Minute, "Connection timeout (eg. 5s, 10m)")
	rootCmd.PersistentFlags().DurationVar(&kaTimeout, "keep-alive-timeout", 90*time.Second, "Keep-alive timeout for client (eg. 10s, 1m, 80s)")
	rootCmd.PersistentFlags().StringVarP(&userAgent, "user-agent", "a", "", "User agent ('randomize' picks a browser one)")
	rootCmd.PersistentFlags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'Authorization: Basic dXNlcjpwYXNz'); can be specified multiple times")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newScrapeCmd())
	rootCmd.AddCommand(newCoursesCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newCleanCmd())
	rootCmd.AddCommand(newVersionCmd())
}

// applyFlagOverrides merges the command line over the config file: flags the
// user set win, otherwise the config value stands.
func applyFlagOverrides(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("destdir") || cfg.DestDir == "" {
		cfg.DestDir = destDir
	}
	if flags.Changed("transfers") || cfg.Transfers <= 0 {
		cfg.Transfers = transfers
	}
	if flags.Changed("connections") || cfg.Connections <= 0 {
		cfg.Connections = connections
	}
	if flags.Changed("cookiejar") || cfg.CookieJar == "" {
		cfg.CookieJar = cookieJar
	}
	if flags.Changed("videos-json") || cfg.VideosManifest == "" {
		cfg.VideosManifest = videosJSON
	}
}

// credentials pulls the SSO login from flags, falling back to environment
// variables so passwords stay out of shell history.
func credentials() auth.Credentials {
	creds := auth.Credentials{Username: username, Password: password}
	if creds.Username == "" {
		creds.Username = os.Getenv("MOODLEGRAB_USERNAME")
	}
	if creds.Password == "" {
		creds.Password = os.Getenv("MOODLEGRAB_PASSWORD")
	}
	return creds
}

// login opens the persistent session and runs the mobile-token flow. On
// failure it points at the manual cookie fallback before returning the error.
func login() (*auth.Session, *moodle.Client, error) {
	session, err := auth.NewSession(cfg.CookieJar, globalHTTPConfig)
	if err != nil {
		return nil, nil, err
	}
	creds := credentials()
	if creds.Username == "" || creds.Password == "" {
		output.PrintDetail("No credentials given, relying on saved session cookies")
	}
	result, err := session.Login(cfg.BaseURL, cfg.IdPSelector, creds)
	if err != nil {
		output.PrintWarning(fmt.Sprintf("Automated login failed. As a workaround, log in with a browser and copy its session cookies into %s", cfg.CookieJar))
		return nil, nil, err
	}
	if saveErr := session.Save(); saveErr != nil {
		output.PrintWarning(fmt.Sprintf("Could not save session cookies: %v", saveErr))
	}
	client := moodle.NewClient(session.Client, cfg.BaseURL, result.Token, cfg.Language)
	return session, client, nil
}
