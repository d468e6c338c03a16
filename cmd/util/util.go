package util

import (
	"strings"
	"time"

	"github.com/ValentinKolb/varstore/lib/logging"
	"github.com/ValentinKolb/varstore/lib/storage/fstore"
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

// SetupStorageFlags adds the common storage engine flags to a command
func SetupStorageFlags(cmd *cobra.Command) {
	key := "dir"
	cmd.PersistentFlags().String(key, "data", WrapString("The directory the record files live in"))

	key = "cache-max-records"
	cmd.PersistentFlags().Int(key, 2000, WrapString("How many records the in-memory cache holds before the least recently used ones are evicted"))

	key = "cache-expiry"
	cmd.PersistentFlags().Duration(key, 15*time.Minute, WrapString("How long an untouched record stays cached"))

	key = "janitor-interval"
	cmd.PersistentFlags().Duration(key, 100*time.Millisecond, WrapString("The time between cache eviction sweeps"))

	key = "workers"
	cmd.PersistentFlags().Int(key, 0, WrapString("The number of concurrent background disk tasks (0 = number of CPUs)"))

	key = "min-free-space"
	cmd.PersistentFlags().Int(key, 4096, WrapString("Free disk space in bytes below which saves are rejected"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("varstore")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetStorageOptions reads the engine configuration from viper
func GetStorageOptions() *fstore.Options {
	opts := fstore.DefaultOptions(viper.GetString("dir"))
	opts.MaxCachedRecords = viper.GetInt("cache-max-records")
	opts.CacheExpiry = viper.GetDuration("cache-expiry")
	opts.JanitorInterval = viper.GetDuration("janitor-interval")
	opts.Workers = viper.GetInt("workers")
	opts.MinFreeSpace = uint64(viper.GetInt("min-free-space"))
	return opts
}

// ApplyLogLevel configures all registered loggers from the bound log-level
// flag
func ApplyLogLevel() {
	logging.SetLevelAll(logging.ParseLogLevel(viper.GetString("log-level")))
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
