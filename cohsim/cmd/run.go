package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/pkg/browser"
	"github.com/sarchlab/cohsim/config"
	"github.com/sarchlab/cohsim/datarecording"
	"github.com/sarchlab/cohsim/monitoring"
	"github.com/sarchlab/cohsim/platform"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload and report what the caches and directories did.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		params, err := loadParams(cmd)
		if err != nil {
			return err
		}

		s, err := newSession(cmd, params)
		if err != nil {
			return err
		}

		_, err = s.run(nil)

		return err
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	addSessionFlags(runCmd)
}

func addSessionFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("record", false,
		"Record the transactions and the summary into an SQLite file.")
	cmd.Flags().String("record-file", "",
		"Name of the recording without the .sqlite3 extension.")
	cmd.Flags().Bool("log-txn", false,
		"Print the directory transactions to stderr.")
	cmd.Flags().Bool("monitor", false, "Serve the monitoring API.")
	cmd.Flags().Int("monitor-port", 0, "Port of the monitoring server.")
	cmd.Flags().Bool("open-monitor", false,
		"Serve the monitoring API and open it in a browser.")
}

// session is one simulation run with the services that the flags ask for.
type session struct {
	params   config.Params
	builder  platform.Builder
	recorder datarecording.DataRecorder
	exec     *datarecording.ExecRecorder
	monitor  *monitoring.Monitor
	openURL  bool
}

func newSession(cmd *cobra.Command, params config.Params) (*session, error) {
	cfg, err := platform.ConfigFromParams(params)
	if err != nil {
		return nil, err
	}

	s := &session{
		params:  params,
		builder: platform.MakeBuilder().WithConfig(cfg),
	}

	flags := cmd.Flags()

	if logTxn, _ := flags.GetBool("log-txn"); logTxn {
		s.builder = s.builder.WithTransactionLogger(log.New(os.Stderr, "", 0))
	}

	if record, _ := flags.GetBool("record"); record {
		name, _ := flags.GetString("record-file")
		s.recorder = datarecording.New(name)
		s.exec = datarecording.NewExecRecorder(s.recorder)
		s.exec.Start()

		for _, k := range params.Keys() {
			s.exec.Add(k, params.String(k, ""))
		}

		s.builder = s.builder.WithRecorder(s.recorder)
	}

	s.openURL, _ = flags.GetBool("open-monitor")
	monitor, _ := flags.GetBool("monitor")

	if monitor || s.openURL {
		s.monitor = monitoring.NewMonitor()

		if port, _ := flags.GetInt("monitor-port"); port > 0 {
			s.monitor.WithPortNumber(port)
		}

		s.builder = s.builder.WithMonitor(s.monitor)
	}

	return s, nil
}

// run builds the platform, lets prepare change it, and runs the workload.
func (s *session) run(
	prepare func(p *platform.Platform) error,
) (*platform.Platform, error) {
	p, err := s.builder.Build()
	if err != nil {
		return nil, err
	}

	if prepare != nil {
		if err := prepare(p); err != nil {
			return nil, err
		}
	}

	if s.monitor != nil {
		s.monitor.StartServer()
		defer s.monitor.StopServer()

		if s.openURL {
			if err := browser.OpenURL(s.monitor.URL()); err != nil {
				fmt.Fprintf(os.Stderr, "Cannot open the browser: %v\n", err)
			}
		}
	}

	runErr := p.Run()
	summary := p.Summarize()

	printReport(os.Stdout, summary)

	if s.recorder != nil {
		p.Record(summary)
		s.exec.End()

		if err := s.recorder.Close(); err != nil {
			return nil, err
		}
	}

	if runErr != nil {
		return nil, runErr
	}

	if len(summary.Violations) > 0 {
		fmt.Fprintf(os.Stderr, "%d coherence violations found\n",
			len(summary.Violations))
		atexit.Exit(2)
	}

	return p, nil
}
