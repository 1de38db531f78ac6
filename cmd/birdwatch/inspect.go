package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/raptorjit/birdwatch/internal/audit"
)

var (
	inspectAuditLog string
	inspectProfiles []string
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Summarize an audit log and its joined VM profiles",
	Long: `inspect loads an audit log, reports how many prototypes, traces and
events it contains (broken down by event kind), and, if any VM profiles
are supplied, reports each profile's hottest traces.`,
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectAuditLog, "audit-log", "", "path to the audit log to load (required)")
	inspectCmd.Flags().StringArrayVar(&inspectProfiles, "profile", nil, "path to a VM profile file (repeatable)")
	inspectCmd.MarkFlagRequired("audit-log")
}

func runInspect(cmd *cobra.Command, args []string) error {
	m, err := audit.Load(inspectAuditLog)
	if err != nil {
		return err
	}

	for i, path := range inspectProfiles {
		if err := m.AddProfile(path, int64(i)); err != nil {
			return err
		}
	}

	t := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(t, "prototypes\t%d\n", len(m.Prototypes()))
	fmt.Fprintf(t, "traces\t%d\n", len(m.Traces()))
	fmt.Fprintf(t, "ctypes\t%d\n", len(m.Ctypes()))
	fmt.Fprintf(t, "events\t%d\n", len(m.Events()))
	t.Flush()

	kinds := make(map[string]int)
	for _, e := range m.Events() {
		kinds[e.Kind]++
	}
	var names []string
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Println("\nevents by kind:")
	t = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, k := range names {
		fmt.Fprintf(t, "  %s\t%d\n", k, kinds[k])
	}
	t.Flush()

	for _, w := range m.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	if len(inspectProfiles) == 0 {
		return nil
	}

	profiles, err := m.SelectProfiles(0, int64(len(inspectProfiles)-1))
	if err != nil {
		return err
	}
	var profileNames []string
	for name := range profiles {
		profileNames = append(profileNames, name)
	}
	sort.Strings(profileNames)
	for _, name := range profileNames {
		fmt.Printf("\n%s hot traces:\n", name)
		printHotTraces(profiles[name].HotTraces())
	}
	return nil
}
