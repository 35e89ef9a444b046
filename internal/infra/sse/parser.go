// internal/infra/sse/parser.go
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

const maxLineSize = 1 << 20

// Event is one dispatched server-sent event.
type Event struct {
	ID    string
	Name  string // "message" when the server sent no event field
	Data  string
	Retry time.Duration
}

// readEvents reads the text/event-stream format from r until EOF or a read
// error. touch is called for every line, comments included, so the caller can
// track liveness. A nil error means the server closed the stream cleanly.
func readEvents(r io.Reader, touch func(), dispatch func(Event)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		ev   Event
		data []string
		seen bool
	)
	for sc.Scan() {
		touch()
		line := sc.Text()

		if line == "" {
			if seen {
				ev.Data = strings.Join(data, "\n")
				if ev.Name == "" {
					ev.Name = "message"
				}
				dispatch(ev)
			}
			ev, data, seen = Event{}, nil, false
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Name = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		case "retry":
			ms, err := strconv.Atoi(value)
			if err != nil || ms < 0 {
				continue
			}
			ev.Retry = time.Duration(ms) * time.Millisecond
		default:
			continue
		}
		seen = true
	}
	return sc.Err()
}
