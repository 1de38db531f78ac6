package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raptorjit/birdwatch/internal/audit"
	"github.com/raptorjit/birdwatch/internal/vmprofile"
)

var (
	profileAuditLog string
	profilePaths    []string
	profileStart    int64
	profileEnd      int64
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print a VM profile's hot trace list, or a delta across a time window",
	Long: `profile joins one or more VM profile files to an audit log (needed to
resolve the profile's trace_max/vmst_max shape and VM-state names from
DWARF) and prints, per profile name, either the single snapshot or the
delta across [-start, -end] that the time window selects.`,
	RunE: runProfile,
}

func init() {
	profileCmd.Flags().StringVar(&profileAuditLog, "audit-log", "", "path to the audit log to load (required, for DWARF shape info)")
	profileCmd.Flags().StringArrayVar(&profilePaths, "profile", nil, "path to a VM profile file (repeatable, required)")
	profileCmd.Flags().Int64Var(&profileStart, "start", 0, "start of the time window (negative is relative to -end)")
	profileCmd.Flags().Int64Var(&profileEnd, "end", -1, "end of the time window (negative is relative to the most recent snapshot)")
	profileCmd.MarkFlagRequired("audit-log")
	profileCmd.MarkFlagRequired("profile")
}

func runProfile(cmd *cobra.Command, args []string) error {
	m, err := audit.Load(profileAuditLog)
	if err != nil {
		return err
	}
	for i, path := range profilePaths {
		if err := m.AddProfile(path, int64(i)); err != nil {
			return err
		}
	}
	profiles, err := m.SelectProfiles(profileStart, profileEnd)
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("no profile snapshots fall within the selected window")
		return nil
	}
	for name, p := range profiles {
		fmt.Printf("%s: %d total samples\n", name, p.TotalSamples())
		for vmst, count := range p.TotalVmstSamples() {
			fmt.Printf("  %s: %d\n", vmst, count)
		}
		printHotTraces(p.HotTraces())
	}
	return nil
}

func printHotTraces(hot []vmprofile.HotTrace) {
	for _, h := range hot {
		label := fmt.Sprintf("%d", h.TraceNo)
		if h.TraceNo == 0 {
			label = "None"
		}
		fmt.Printf("  trace %s: %d\n", label, h.Total)
	}
}
