package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/KevinKickass/OpenPLCWorkspace/internal/watch"
)

// PrintLines writes one line per update until source fails. It is used when
// stdout is not a terminal.
func PrintLines(w io.Writer, initial []watch.Entry, source Source) error {
	for _, e := range initial {
		if err := printLine(w, e); err != nil {
			return err
		}
	}
	if source == nil {
		return nil
	}
	for {
		e, err := source()
		if err != nil {
			return err
		}
		if err := printLine(w, e); err != nil {
			return err
		}
	}
}

func printLine(w io.Writer, e watch.Entry) error {
	at := e.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	flag := ""
	if e.Stale {
		flag = " (stale)"
	}
	_, err := fmt.Fprintf(w, "%s %s=%s%s\n", at.Format(time.RFC3339), e.Name, e.Value, flag)
	return err
}
