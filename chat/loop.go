package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

const (
	// Prompt is written before every question is read.
	Prompt = "Enter your query (or type 'exit'): "
	// Separator follows every answer.
	Separator = "----------------------------------------------------"
)

const exitCommand = "exit"

// Asker is the part of Engine the loop drives.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// Loop reads questions from in and writes answers to out until "exit" (in
// any case), end of input or ctx is done. Failed questions are reported on
// out and the loop carries on.
func Loop(ctx context.Context, asker Asker, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		fmt.Fprint(out, Prompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.EqualFold(line, exitCommand) {
			return nil
		}

		answer, err := asker.Ask(ctx, line)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintln(out, answer)
		fmt.Fprintln(out, Separator)
	}
}
