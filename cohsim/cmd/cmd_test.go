package cmd

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sarchlab/cohsim/platform"
	"github.com/spf13/cobra"
)

var _ = Describe("Command line", func() {
	BeforeEach(func() {
		color.NoColor = true
	})

	It("should merge the config files with the overrides", func() {
		dir := GinkgoT().TempDir()
		base := filepath.Join(dir, "base.env")
		Expect(os.WriteFile(base,
			[]byte("cores=8\ndir.type=region\n"), 0o644)).To(Succeed())

		cmd := &cobra.Command{}
		cmd.Flags().AddFlagSet(rootCmd.PersistentFlags())
		Expect(cmd.Flags().Parse([]string{
			"--config", base,
			"--set", "cores=2",
			"--set", "dir.rsize=512",
		})).To(Succeed())

		params, err := loadParams(cmd)
		Expect(err).ToNot(HaveOccurred())
		Expect(params.String("cores", "")).To(Equal("2"))
		Expect(params.String("dir.type", "")).To(Equal("region"))
		Expect(params.String("dir.rsize", "")).To(Equal("512"))
	})

	It("should report the summary", func() {
		var buf bytes.Buffer

		printReport(&buf, platform.Summary{
			Cycles: 42,
			Banks:  []platform.BankSummary{{Name: "Dir[0]", StoreKind: "standard"}},
			Caches: []platform.CacheSummary{{Name: "Cache[0]", Accesses: 4, Hits: 1}},
		})

		out := buf.String()
		Expect(out).To(ContainSubstring("Simulated 42 cycles"))
		Expect(out).To(ContainSubstring("Dir[0]"))
		Expect(out).To(ContainSubstring("0.250"))
		Expect(out).To(ContainSubstring("No coherence violation found"))
	})

	It("should list the violations", func() {
		var buf bytes.Buffer

		printReport(&buf, platform.Summary{
			Violations: []platform.Violation{
				{Addr: 0x40, Core: 1, Reason: "held M with other copies"},
			},
		})

		Expect(buf.String()).To(ContainSubstring(
			"0x40 core 1: held M with other copies"))
	})
})
