package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/RomainAlbert/go-hislip"
	"github.com/RomainAlbert/go-hislip/internal/cliparse"
)

// runInteractive reads commands from in until EOF, a read error, or a
// quit/exit command, tokenizing each line with shell-style quoting so
// payloads containing spaces can be wrapped in quotes. A fatal protocol
// error from a command is reported and the loop continues.
func runInteractive(ctx context.Context, c *hislip.Client, l *slog.Logger, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprintln(out, "hislip-cli interactive mode. Commands: write, ask, status, lock, unlock, lock-info, clear, trigger, srq-wait, quit")
	for {
		fmt.Fprint(out, "hislip> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := scanner.Text()
		args, err := cliparse.SplitLine(line)
		if err != nil {
			fmt.Fprintf(out, "parse error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}
		if err := dispatchCommand(ctx, c, args); err != nil {
			if fpe, ok := err.(*hislip.FatalProtocolError); ok {
				l.Error("fatal_error", "code", fpe.Code, "local", fpe.Local)
				fmt.Fprintf(out, "fatal error: %v (reconnect attempted)\n", err)
				continue
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}
