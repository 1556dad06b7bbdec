// Package cmd provides the command-line interface of cohsim.
package cmd

import (
	"github.com/sarchlab/cohsim/config"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cohsim",
	Short: "Cohsim simulates directory-based cache coherence.",
	Long: `Cohsim simulates private caches kept coherent by a banked ` +
		`directory. Parameters come from dotenv-style files given with ` +
		`--config and from key=value pairs given with --set.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func init() {
	rootCmd.PersistentFlags().StringSlice("config", nil,
		"Configuration files, later files override earlier ones.")
	rootCmd.PersistentFlags().StringArray("set", nil,
		"A key=value pair that overrides the configuration files.")
}

func loadParams(cmd *cobra.Command) (config.Params, error) {
	files, _ := cmd.Flags().GetStringSlice("config")
	sets, _ := cmd.Flags().GetStringArray("set")

	params, err := config.Load(files...)
	if err != nil {
		return nil, err
	}

	if err := params.SetAll(sets); err != nil {
		return nil, err
	}

	return params, nil
}
