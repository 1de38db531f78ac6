package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/raptorjit/birdwatch/internal/audit"
)

var shellAuditLog string

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive REPL for ad hoc queries against an audit log",
	Long: `shell loads an audit log once and then accepts commands typed at a
prompt: "trace <n>" prints a trace's contour, "proto <addr>" prints a
prototype's declaration site, "events <kind>" lists events of one kind,
and "quit" exits.`,
	RunE: runShell,
}

func init() {
	shellCmd.Flags().StringVar(&shellAuditLog, "audit-log", "", "path to the audit log to load (required)")
	shellCmd.MarkFlagRequired("audit-log")
}

func runShell(cmd *cobra.Command, args []string) error {
	m, err := audit.Load(shellAuditLog)
	if err != nil {
		return err
	}

	rl, err := readline.New("birdwatch> ")
	if err != nil {
		return fmt.Errorf("failed to start interactive shell: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == io.EOF || err == readline.ErrInterrupt {
			return nil
		}
		if err != nil {
			return err
		}
		switch err := shellDispatch(m, strings.TrimSpace(line)); {
		case err == io.EOF:
			return nil
		case err != nil:
			fmt.Println(err)
		}
	}
}

func shellDispatch(m *audit.Model, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "quit", "exit":
		return io.EOF
	case "trace":
		return shellTrace(m, fields[1:])
	case "proto":
		return shellProto(m, fields[1:])
	case "events":
		return shellEvents(m, fields[1:])
	case "help":
		fmt.Println("commands: trace <n>, proto <addr>, events <kind>, quit")
		return nil
	default:
		return fmt.Errorf("unknown command %q (try 'help')", fields[0])
	}
}

func shellTrace(m *audit.Model, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: trace <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	t, ok := m.Traces()[n]
	if !ok {
		return fmt.Errorf("no trace numbered %d", n)
	}
	for _, li := range t.Contour() {
		fmt.Printf("  %s:%d in %s:%d\n", li.ChunkName, li.ChunkLine, li.DeclName, li.DeclLine)
	}
	return nil
}

func shellProto(m *audit.Model, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: proto <addr>")
	}
	addr, err := strconv.ParseUint(strings.TrimPrefix(args[0], "0x"), 16, 64)
	if err != nil {
		return err
	}
	p, ok := m.Prototypes()[addr]
	if !ok {
		return fmt.Errorf("no prototype at address 0x%x", addr)
	}
	fmt.Printf("  %s:%d (%s)\n", p.ChunkName, p.FirstLine, p.DeclName)
	return nil
}

func shellEvents(m *audit.Model, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: events <kind>")
	}
	for _, e := range m.EventsByKind(args[0]) {
		fmt.Printf("  %d\n", e.Nanotime)
	}
	return nil
}
