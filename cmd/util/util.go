package util

import (
	"fmt"
	"strings"

	"github.com/avollmer/strataKV/lib/logging"
	"github.com/avollmer/strataKV/lib/stats"
	"github.com/avollmer/strataKV/lib/store"
	"github.com/avollmer/strataKV/lib/tier"
	"github.com/avollmer/strataKV/lib/tier/memory"
	"github.com/avollmer/strataKV/lib/tier/pebble"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupStoreFlags adds the tier configuration flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "warm-tier"
	cmd.PersistentFlags().String(key, "none", WrapString("Backend of the warm tier (none, memory, pebble)"))

	key = "cold-tier"
	cmd.PersistentFlags().String(key, "none", WrapString("Backend of the cold tier (none, memory, pebble)"))

	key = "data-dir"
	cmd.PersistentFlags().String(key, "./strata-data", WrapString("Directory for pebble-backed tiers"))

	key = "drop-queue-size"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the deferred reclamation queue (0 = default)"))

	key = "stats-queue-size"
	cmd.PersistentFlags().Int(key, 0, WrapString("Size of the statistics sample queue (0 = default)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("strata")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// InitLogging configures all engine loggers from the log-level flag.
func InitLogging() {
	logging.InitLoggers(viper.GetString("log-level"))
}

// newTier creates one tier backend based on configuration.
func newTier(backend, dir string) (tier.Storage, error) {
	switch backend {
	case "none", "":
		return nil, nil
	case "memory":
		return memory.New(), nil
	case "pebble":
		return pebble.New(dir)
	default:
		return nil, fmt.Errorf("invalid tier backend %s", backend)
	}
}

// OpenStore assembles a store from viper configuration. The hot tier is
// always in-memory; warm and cold tiers are optional. The returned collector
// must be closed after the store.
func OpenStore() (*store.Store, *stats.Collector, error) {
	dataDir := viper.GetString("data-dir")

	warm, err := newTier(viper.GetString("warm-tier"), dataDir+"/warm")
	if err != nil {
		return nil, nil, err
	}
	cold, err := newTier(viper.GetString("cold-tier"), dataDir+"/cold")
	if err != nil {
		return nil, nil, err
	}

	collector := stats.NewCollector(viper.GetInt("stats-queue-size"))
	s, err := store.NewStore(store.Options{
		Hot:           memory.New(),
		Warm:          warm,
		Cold:          cold,
		Stats:         collector,
		DropQueueSize: viper.GetInt("drop-queue-size"),
	})
	if err != nil {
		collector.Close()
		return nil, nil, err
	}
	return s, collector, nil
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
