package tui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// RunPlain runs a line-oriented chat loop, for pipes and dumb terminals.
// It returns when in is exhausted, a quit word is entered or ctx is done.
func RunPlain(ctx context.Context, svc Service, in io.Reader, out io.Writer, useRemote bool) error {
	fmt.Fprintln(out, "Notion Q&A. Type 'quit' to exit, '/help' for commands.")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch parseCommand(line) {
		case cmdQuit:
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case cmdToggleRemote:
			useRemote = !useRemote
			fmt.Fprintf(out, "Remote backend %s\n", onOff(useRemote))
			continue
		case cmdClear:
			svc.ClearHistory()
			fmt.Fprintln(out, "History cleared")
			continue
		case cmdStatus:
			st := svc.Status(ctx)
			if st.Connected {
				fmt.Fprintf(out, "Backend %s connected, %d unit(s)\n", st.Backend, len(st.Units))
				for _, u := range st.Units {
					fmt.Fprintf(out, "  - %s: %s\n", u.ID, u.Name)
				}
			} else {
				fmt.Fprintf(out, "Backend %s unavailable: %s\n", st.Backend, st.Error)
			}
			continue
		case cmdHelp:
			fmt.Fprintln(out, commandHelp)
			continue
		}

		env := svc.Answer(ctx, line, useRemote)
		if env.Success {
			fmt.Fprintf(out, "\nAnswer: %s\n", env.Answer)
		} else {
			fmt.Fprintf(out, "\nError: %s\n", env.Error)
		}
		fmt.Fprintf(out, "(%s)\n", envelopeMeta(env))
	}
}
