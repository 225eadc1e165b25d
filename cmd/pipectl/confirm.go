// File: cmd/pipectl/confirm.go
// Brief: Confirmation prompt for runs that touch many applications.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

type approval struct {
	Approved    bool
	Interactive bool
}

func approvedFromEnv() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("PIPECTL_YES"))) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func newApproval(in io.Reader, yes bool) approval {
	a := approval{Approved: yes || approvedFromEnv()}
	if f, ok := in.(*os.File); ok {
		a.Interactive = term.IsTerminal(int(f.Fd()))
	}
	return a
}

// confirmExact succeeds when the user types expected. Approved runs never
// prompt; non-interactive ones fail.
func confirmExact(ctx context.Context, in io.Reader, out io.Writer, a approval, prompt, expected string) error {
	if a.Approved {
		return nil
	}
	if !a.Interactive {
		return errors.New("refusing to proceed without confirmation; rerun with --yes")
	}
	fmt.Fprint(out, strings.TrimSpace(prompt)+" ")

	type result struct {
		line string
		err  error
	}
	read := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		read <- result{line: line, err: err}
	}()
	select {
	case <-ctx.Done():
		fmt.Fprintln(out)
		return ctx.Err()
	case res := <-read:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return res.err
		}
		if strings.TrimSpace(res.line) != expected {
			return errors.New("aborted")
		}
		return nil
	}
}
