package client

import (
	"errors"
	"io"

	"github.com/chzyer/readline"
)

// ReadlineSource is a LineSource for terminals, with line editing and
// history.
type ReadlineSource struct {
	rl *readline.Instance
}

// NewReadlineSource opens a readline instance. historyFile may be empty.
func NewReadlineSource(historyFile string) (*ReadlineSource, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyFile,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &ReadlineSource{rl: rl}, nil
}

// Next prompts with name and reads one line. Ctrl-C and Ctrl-D end the
// session.
func (r *ReadlineSource) Next(name string) (string, error) {
	r.rl.SetPrompt(name + "> ")
	line, err := r.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

// Close restores the terminal.
func (r *ReadlineSource) Close() error { return r.rl.Close() }
