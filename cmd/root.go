package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/pubsearch/internal/app"
	appconfig "github.com/JakeFAU/pubsearch/internal/config"
	"github.com/JakeFAU/pubsearch/internal/logging"
	"github.com/JakeFAU/pubsearch/internal/notify"
	"github.com/JakeFAU/pubsearch/internal/storage"
	"github.com/JakeFAU/pubsearch/pkg/config"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
// This allows us to inject a mock app during tests.
type App interface {
	Close()
	GetConfig() appconfig.Config
	GetLogger() *zap.Logger
	GetStorage() storage.BlobStore
	GetPublisher() notify.Publisher
}

// newApp is the application factory. It's a variable so we can
// replace it with a mock factory in our tests.
var newApp = func(ctx context.Context) (App, error) {
	cfg, err := appconfig.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := logging.InitLogger(cfg.Logging.Development); err != nil {
		return nil, err
	}
	return app.NewApp(ctx, cfg, logging.L, nil)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pubsearch",
		Short: "Crawl, index and search a research portal's publications.",
		Long: `pubsearch collects publication records from a Pure research portal,
builds an inverted index over them and serves ranked, filterable search
results over HTTP.`,
		SilenceUsage: true,

		// Runs after config is loaded but before the subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}

			// Store the app instance in the context for subcommands to use.
			ctx := context.WithValue(cmd.Context(), appKey, appInstance)
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	// Initialize Viper configuration.
	cobra.OnInitialize(func() { config.InitConfig(cfgFile) })

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	cmd.PersistentFlags().String("data-dir", "", "directory holding the corpus and index artifacts")
	cobra.CheckErr(viper.BindPFlag("storage.data_dir", cmd.PersistentFlags().Lookup("data-dir")))

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	// Initialize the logger once at the very start; PersistentPreRunE
	// replaces it once the configuration is known.
	if err := logging.InitLogger(true); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		logging.L.Error("Command execution failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return appInstance, nil
}

// bindFlags binds local flags to viper keys so flags override the file and
// the environment.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for name, key := range keys {
		cobra.CheckErr(viper.BindPFlag(key, cmd.Flags().Lookup(name)))
	}
}
