package hostio

import (
	"bufio"
	"os"
)

// StdoutConsole is a platform.ConsoleSink writing to the process's
// standard output, buffered and flushed after every byte — best-
// effort, eventually-flushing per spec.md §6, since the UART model has
// no notion of a flush command of its own.
type StdoutConsole struct {
	w *bufio.Writer
}

func NewStdoutConsole() *StdoutConsole {
	return &StdoutConsole{w: bufio.NewWriter(os.Stdout)}
}

func (c *StdoutConsole) WriteByte(b byte) error {
	if err := c.w.WriteByte(b); err != nil {
		return err
	}
	return c.w.Flush()
}
