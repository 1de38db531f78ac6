package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/raptorjit/birdwatch/internal/audit"
)

var traceAuditLog string

var traceCmd = &cobra.Command{
	Use:   "trace <traceno>",
	Short: "Print one trace's contour, bytecode log, and IR",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrace,
}

func init() {
	traceCmd.Flags().StringVar(&traceAuditLog, "audit-log", "", "path to the audit log to load (required)")
	traceCmd.MarkFlagRequired("audit-log")
}

func runTrace(cmd *cobra.Command, args []string) error {
	traceno, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid trace number %q: %w", args[0], err)
	}

	m, err := audit.Load(traceAuditLog)
	if err != nil {
		return err
	}
	t, ok := m.Traces()[traceno]
	if !ok {
		return fmt.Errorf("no trace numbered %d", traceno)
	}

	fmt.Printf("trace %d: start-id %s, parent %d, startpc 0x%x\n", t.TraceNo, t.StartID(), t.Parent, t.StartPC)

	fmt.Println("contour:")
	for _, li := range t.Contour() {
		fmt.Printf("  [%d] %s:%d in %s:%d\n", li.FrameDepth, li.ChunkName, li.ChunkLine, li.DeclName, li.DeclLine)
	}

	fmt.Println("bytecode log:")
	for i, bc := range t.Bytecodes() {
		if bc == nil {
			fmt.Printf("  [%d] {}\n", i)
			continue
		}
		fmt.Printf("  [%d] op=%s a=%d b=%d c=%d d=%d\n", i, bc.Op, bc.A, bc.B, bc.C, bc.D)
	}

	consts, err := t.Constants()
	if err != nil {
		return fmt.Errorf("failed to decode constants: %w", err)
	}
	fmt.Printf("constants: %d\n", len(consts))
	for _, c := range consts {
		fmt.Printf("  k%d: %s\n", c.Index, c.Kind)
	}

	insns, err := t.Instructions()
	if err != nil {
		return fmt.Errorf("failed to decode instructions: %w", err)
	}
	fmt.Printf("instructions: %d\n", len(insns))
	for _, ins := range insns {
		fmt.Printf("  %04d %s %s\n", ins.Ref, ins.Type, ins.Op)
	}

	return nil
}
