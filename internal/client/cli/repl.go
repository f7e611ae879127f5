package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface is the command surface the REPL needs. App satisfies it.
type execIface interface {
	Exec(ctx context.Context, cmd string, args []string) error
}

// runREPL reads one command per line and dispatches it to a. Command
// errors are printed and the loop continues. It exits on EOF or when the
// user types "exit" or "quit".
func runREPL(ctx context.Context, a execIface, scanner *bufio.Scanner, w io.Writer) {
	for {
		fmt.Fprint(w, "registry> ")
		if !scanner.Scan() {
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}

		switch cmd := parts[0]; cmd {
		case "help":
			fmt.Fprintln(w, usage)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			if err := a.Exec(ctx, cmd, parts[1:]); err != nil {
				fmt.Fprintln(w, "error:", err)
			}
		}
		if ctx.Err() != nil {
			return
		}
	}
}
