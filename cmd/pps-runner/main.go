package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var flagConfigFilePath string // value of --config flag

func main() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "YAML runner configuration file (overrides PPS_CONFIG_FILE)")
	rootCmd.PersistentPreRunE = applyConfigFlag

	// never print messages
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nwpCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("pps-runner failed", "error", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "pps-runner",
	Short:        "Runs PPS cloud processing on incoming satellite passes",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "consume level-1 notifications and process complete scenes",
	RunE:  doRun,
}

var nwpCmd = &cobra.Command{
	Use:   "nwp",
	Short: "prepare NWP input files once and exit",
	RunE:  doNWP,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print build information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("pps-runner: version info not available")
			return
		}
		fmt.Printf("pps-runner: %s\n", info.Main.Version)
		fmt.Printf("go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:       %s\n", s.Value)
			}
		}
	},
}

func applyConfigFlag(_ *cobra.Command, _ []string) error {
	if flagConfigFilePath == "" {
		return nil
	}
	if _, err := os.Stat(flagConfigFilePath); err != nil {
		return fmt.Errorf("config file: %w", err)
	}
	return os.Setenv("PPS_CONFIG_FILE", flagConfigFilePath)
}
