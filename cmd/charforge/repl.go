package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rahul/charforge/internal/observability"
)

const replHelp = `
Character creation guide:
  - create a mage with fire magic and a long robe
  - design a cyberpunk warrior with a mechanical arm and a laser rifle
  - make a cute elf archer with a green theme
  - create a dark necromancer
  - design a futuristic robot character

Describe the look, skills and style in as much detail as you like.
Commands: help, clear, quit (or exit, q).`

func (a *app) header() {
	fmt.Fprintf(a.out, "%s\n%s\nDescribe the character you want; type 'help' for examples, 'quit' to leave.\n%s\n",
		observability.Rule(), observability.Heading("Game Character Creation"), observability.Rule())
}

// repl reads requests line by line until quit, end of input or ctx is done.
func (a *app) repl(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	a.header()
	for {
		fmt.Fprint(a.out, "\n>>> ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(a.out, "\nInterrupted, exiting.")
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(a.out, "\nInput closed, exiting.")
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line = strings.TrimSpace(l)
		}

		switch strings.ToLower(line) {
		case "":
		case "quit", "exit", "q":
			fmt.Fprintln(a.out, "Goodbye!")
			return nil
		case "help", "h":
			fmt.Fprintln(a.out, replHelp)
		case "clear":
			fmt.Fprint(a.out, "\033[2J\033[H")
			a.header()
		default:
			a.run(ctx, line, "")
		}
	}
}
