// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sysmonctl queries and controls a running sysmond over its socket.
//
// Usage:
//
//	sysmonctl [--socket PATH] [--json | --raw] COMMAND [ARGS]
//
// --json prints the reply as indented JSON. --raw prints the CBOR reply
// in diagnostic notation exactly as the daemon sent it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/sysmond/lib/codec"
	"github.com/bureau-foundation/sysmond/lib/config"
	"github.com/bureau-foundation/sysmond/lib/ipc"
	"github.com/bureau-foundation/sysmond/lib/process"
	"github.com/bureau-foundation/sysmond/lib/version"
)

const callTimeout = 30 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// session carries the connection and output mode shared by every
// command.
type session struct {
	client *ipc.Client
	out    io.Writer
	json   bool
	raw    bool
}

// fetch calls action and decodes the reply into result. In raw mode it
// prints the reply instead and reports printed.
func (s *session) fetch(ctx context.Context, action string, fields, result any) (printed bool, err error) {
	if !s.raw {
		return false, s.client.Call(ctx, action, fields, result)
	}
	var raw codec.RawMessage
	if err := s.client.Call(ctx, action, fields, &raw); err != nil {
		return false, err
	}
	if len(raw) == 0 {
		fmt.Fprintln(s.out, "null")
		return true, nil
	}
	text, err := codec.Diagnose(raw)
	if err != nil {
		return false, fmt.Errorf("formatting %s reply: %w", action, err)
	}
	fmt.Fprintln(s.out, text)
	return true, nil
}

func run(args []string, out io.Writer) error {
	flagSet := pflag.NewFlagSet("sysmonctl", pflag.ContinueOnError)
	flagSet.SetInterspersed(false)
	socketPath := flagSet.String("socket", config.Default().SocketPath, "daemon socket path")
	jsonOutput := flagSet.Bool("json", false, "print replies as JSON")
	rawOutput := flagSet.Bool("raw", false, "print replies in CBOR diagnostic notation")
	noColor := flagSet.Bool("no-color", false, "disable colored output")
	showVersion := flagSet.Bool("version", false, "print version information and exit")
	flagSet.Usage = func() { usage(flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if *showVersion {
		version.Print("sysmonctl")
		return nil
	}
	if *jsonOutput && *rawOutput {
		return errors.New("--json and --raw are mutually exclusive")
	}
	if flagSet.NArg() == 0 {
		usage(flagSet)
		return errors.New("no command given")
	}

	if *noColor || !isTerminal(out) {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	name := flagSet.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		return fmt.Errorf("unknown command %q (run sysmonctl --help for a list)", name)
	}

	ctx, cancel := process.SignalContext(context.Background())
	defer cancel()
	if !cmd.interactive {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, callTimeout)
		defer cancelTimeout()
	}

	s := &session{
		client: ipc.NewClient(*socketPath),
		out:    out,
		json:   *jsonOutput,
		raw:    *rawOutput,
	}
	return cmd.run(ctx, s, flagSet.Args()[1:])
}

func isTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

func usage(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, "Usage: sysmonctl [flags] COMMAND [args]\n\nFlags:\n%s\nCommands:\n", flagSet.FlagUsages())
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	writer := tabwriter.NewWriter(os.Stderr, 2, 0, 3, ' ', 0)
	for _, name := range names {
		cmd := commands[name]
		fmt.Fprintf(writer, "  %s\t%s\n", strings.TrimSpace(name+" "+cmd.args), cmd.summary)
	}
	writer.Flush()
}
