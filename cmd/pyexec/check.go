package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify nsjail can be launched and show the effective policy",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p := a.jail.Policy()
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Jail:        %s\n", p.JailPath)
	fmt.Fprintf(w, "Interpreter: %s\n", p.InterpreterPath)
	fmt.Fprintf(w, "Time limit:  %s (+%s grace)\n", p.TimeLimit, p.Grace)
	fmt.Fprintf(w, "Memory:      %d MB\n", p.Limits.AddressSpaceMB)
	if len(p.DisableNamespaces) > 0 {
		fmt.Fprintf(w, "Namespaces:  all except %s\n", strings.Join(p.DisableNamespaces, ", "))
	} else {
		fmt.Fprintf(w, "Namespaces:  all\n")
	}
	fmt.Fprintf(w, "Command:     %s %s\n", p.JailPath, strings.Join(a.jail.Args("<workdir>/main.py"), " "))
	fmt.Fprintln(w, strings.Repeat("─", 60))

	if err := a.jail.Check(context.Background()); err != nil {
		fmt.Fprintf(w, "nsjail: NOT available (%v)\n", err)
		return fmt.Errorf("sandbox unavailable")
	}
	fmt.Fprintln(w, "nsjail: available")
	return nil
}
