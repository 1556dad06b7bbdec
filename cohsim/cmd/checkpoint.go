package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/sarchlab/cohsim/platform"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Save or restore the directory entries.",
	Long: `Checkpoints hold the entries of standard directories, so that a ` +
		`run can start from the directory state that another run left.`,
}

var checkpointSaveCmd = &cobra.Command{
	Use:   "save FILE",
	Short: "Run a workload and save the directory entries into FILE.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := loadParams(cmd)
		if err != nil {
			return err
		}

		s, err := newSession(cmd, params)
		if err != nil {
			return err
		}

		p, err := s.run(nil)
		if err != nil {
			return err
		}

		var buf bytes.Buffer
		if err := p.SaveCheckpoint(&buf); err != nil {
			return err
		}

		if err := os.WriteFile(args[0], buf.Bytes(), 0o644); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "Checkpoint saved to %s\n", args[0])

		return nil
	},
}

var checkpointLoadCmd = &cobra.Command{
	Use:   "load FILE",
	Short: "Restore the directory entries from FILE and run a workload.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		params, err := loadParams(cmd)
		if err != nil {
			return err
		}

		s, err := newSession(cmd, params)
		if err != nil {
			return err
		}

		_, err = s.run(func(p *platform.Platform) error {
			return p.LoadCheckpoint(data)
		})

		return err
	},
}

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointSaveCmd)
	checkpointCmd.AddCommand(checkpointLoadCmd)
	addSessionFlags(checkpointSaveCmd)
	addSessionFlags(checkpointLoadCmd)
}
