// ABOUTME: Incremental renderer that prints session changes as they arrive
// ABOUTME: Each message is printed once when it appears and again when its reply resolves

package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/coven-assist/internal/session"
)

type renderer struct {
	mu         sync.Mutex
	out        io.Writer
	timestamps bool

	started bool
	open    bool
	seen    map[string]session.Status
}

func newRenderer(out io.Writer, timestamps bool) *renderer {
	return &renderer{
		out:        out,
		timestamps: timestamps,
		seen:       make(map[string]session.Status),
	}
}

// Apply prints whatever changed between the last snapshot and st.
func (r *renderer) Apply(st session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started || st.IsOpen != r.open {
		if st.IsOpen {
			fmt.Fprintln(r.out, color.HiBlackString("[panel open]"))
		} else if r.started {
			fmt.Fprintln(r.out, color.HiBlackString("[panel closed]"))
		}
		r.open = st.IsOpen
	}
	r.started = true

	for _, m := range st.Messages {
		prev, ok := r.seen[m.ID]
		r.seen[m.ID] = m.Status
		if ok && prev == m.Status {
			continue
		}
		r.printMessage(m)
	}
}

func (r *renderer) printMessage(m session.Message) {
	prefix := ""
	if r.timestamps {
		prefix = color.HiBlackString(m.Timestamp.Local().Format("15:04:05") + " ")
	}

	switch {
	case m.Sender == session.SenderUser:
		fmt.Fprintf(r.out, "%s%s %s\n", prefix, color.BlueString("you →"), m.Text)
	case m.Status == session.StatusPending:
		fmt.Fprintf(r.out, "%s%s\n", prefix, color.HiBlackString("assistant is typing..."))
	case m.Status == session.StatusFailed:
		fmt.Fprintf(r.out, "%s%s %s\n", prefix, color.RedString("← !"), m.Text)
	default:
		fmt.Fprintf(r.out, "%s%s %s\n", prefix, color.GreenString("←"), m.Text)
	}
}
