package cli

import (
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/huginnscan/huginn/internal/privilege"
	"github.com/huginnscan/huginn/internal/probe"
)

var probesCmd = &cobra.Command{
	Use:   "probes",
	Short: "List available probe types",
	Long: `Probes lists every registered probe type, what it needs to run, and
whether the current process satisfies that requirement.`,
	RunE: runProbes,
}

func init() {
	rootCmd.AddCommand(probesCmd)
}

func runProbes(_ *cobra.Command, _ []string) error {
	registry := probe.DefaultRegistry()
	gate := privilege.NewGate()

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("TYPE", "DESCRIPTION", "REQUIRES", "AVAILABLE")

	for _, probeType := range registry.Types() {
		p, err := registry.Get(probeType)
		if err != nil {
			return err
		}

		available := "yes"
		if !gate.Satisfies(p.RequiredPrivilege()) {
			available = "no (run as root)"
		}
		if err := table.Append([]string{
			p.Type(),
			p.Description(),
			p.RequiredPrivilege().String(),
			available,
		}); err != nil {
			return err
		}
	}

	return table.Render()
}
