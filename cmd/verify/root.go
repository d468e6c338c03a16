package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ValentinKolb/varstore/cmd/util"
	"github.com/ValentinKolb/varstore/lib/frame"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VerifyCmd represents the verify command
	VerifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify all record files in a storage directory",
		Long: `Verify scans a storage directory and validates the frame of every record
file. For each key it reports whether the current file is readable, whether
a corrupt or missing file is covered by its backup, and how many abandoned
scratch files are lying around. Only the frames are validated, the records
themselves are not decoded.`,
		PreRunE: processConfig,
		RunE:    runVerify,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "dir"
	VerifyCmd.PersistentFlags().String(key, "data", util.WrapString("The directory to verify"))
	key = "quiet"
	VerifyCmd.PersistentFlags().Bool(key, false, util.WrapString("Only print the summary"))
}

// processConfig binds the flags and applies the configured log level
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	util.ApplyLogLevel()
	return nil
}

// keyState collects what was found on disk for one key
type keyState struct {
	hasPrimary bool
	primaryOK  bool
	hasBackup  bool
	backupOK   bool
}

func runVerify(_ *cobra.Command, _ []string) error {
	dir := viper.GetString("dir")
	quiet := viper.GetBool("quiet")

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read directory %s: %v", dir, err)
	}

	states := make(map[string]*keyState)
	strayTemps := 0

	stateFor := func(key string) *keyState {
		if s, ok := states[key]; ok {
			return s
		}
		s := &keyState{}
		states[key] = s
		return s
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()

		switch {
		case strings.HasSuffix(name, ".var.bak"):
			s := stateFor(strings.TrimSuffix(name, ".var.bak"))
			s.hasBackup = true
			s.backupOK = frameOK(filepath.Join(dir, name))
		case strings.HasSuffix(name, ".var"):
			s := stateFor(strings.TrimSuffix(name, ".var"))
			s.hasPrimary = true
			s.primaryOK = frameOK(filepath.Join(dir, name))
		case strings.HasSuffix(name, ".tmp"):
			strayTemps++
		}
	}

	// deterministic report order
	keys := make([]string, 0, len(states))
	for key := range states {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var valid, recoverable, backupOnly, unreadable int

	for _, key := range keys {
		s := states[key]
		switch {
		// case primary readable -> the key is fine
		case s.primaryOK:
			valid++
			if !quiet {
				fmt.Printf("%-10s%s\n", "ok", key)
			}

		// case primary corrupt or missing, backup readable -> loads fall
		// back to the previous version
		case s.hasBackup && s.backupOK:
			if s.hasPrimary {
				recoverable++
				if !quiet {
					fmt.Printf("%-10s%s (primary corrupt, backup readable)\n", "RECOVER", key)
				}
			} else {
				backupOnly++
				if !quiet {
					fmt.Printf("%-10s%s (primary missing, backup readable)\n", "backup", key)
				}
			}

		// case nothing readable -> the key is lost
		default:
			unreadable++
			if !quiet {
				fmt.Printf("%-10s%s\n", "CORRUPT", key)
			}
		}
	}

	fmt.Printf("\nchecked %d keys: %d ok, %d recoverable from backup, %d backup only, %d unreadable\n",
		len(keys), valid, recoverable, backupOnly, unreadable)
	fmt.Printf("stray scratch files: %d\n", strayTemps)

	if unreadable > 0 {
		return fmt.Errorf("%d keys are unreadable", unreadable)
	}
	return nil
}

// frameOK reads one file and validates its frame
func frameOK(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	_, err = frame.Decode(data)
	return err == nil
}
