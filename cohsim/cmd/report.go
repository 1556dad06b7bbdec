package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/sarchlab/cohsim/platform"
)

func printReport(w io.Writer, s platform.Summary) {
	title := color.New(color.FgCyan, color.Bold)

	title.Fprintf(w, "Simulated %d cycles, %d messages, %d hops\n\n",
		s.Cycles, s.NetMsgs, s.NetHops)

	title.Fprintln(w, "Directories")

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "name\tstore\trequests\tsnoops\tinvals\tevicts\t"+
		"forwards\tstale\tmaf stalls\teb stalls\tlatency\toccupancy")

	for _, b := range s.Banks {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\t%d\n",
			b.Name, b.StoreKind, b.Requests, b.SnoopsSent, b.Invalidations,
			b.Evictions, b.Forwards, b.StaleEvicts, b.MAFStalls, b.EBStalls,
			b.AvgLatency, b.Occupancy)
	}

	tw.Flush()
	fmt.Fprintln(w)

	title.Fprintln(w, "Caches")

	tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "name\taccesses\thit rate\tmisses\tupgrades\tevicts\t"+
		"silent\tsnoops\tforwards\tmiss latency")

	for _, c := range s.Caches {
		fmt.Fprintf(tw, "%s\t%d\t%.3f\t%d\t%d\t%d\t%d\t%d\t%d\t%.1f\n",
			c.Name, c.Accesses, c.HitRate(), c.Misses, c.Upgrades,
			c.Evictions, c.SilentDrops, c.Snoops, c.ForwardsSent,
			c.AvgMissLatency)
	}

	tw.Flush()
	fmt.Fprintln(w)

	if len(s.Violations) == 0 {
		color.New(color.FgGreen).Fprintln(w, "No coherence violation found")
		return
	}

	bad := color.New(color.FgRed, color.Bold)
	for _, v := range s.Violations {
		bad.Fprintln(w, v.String())
	}
}
