// Package cli renders reconciler views on a terminal.
package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/service/pollapi"
	"PollPulse/internal/usecase"
)

const (
	defaultBarWidth = 30
	maxLabel        = 24
)

// Renderer writes one block per view change. It is safe to use as a
// StatsReconciler OnChange callback.
type Renderer struct {
	mu       sync.Mutex
	w        io.Writer
	width    int
	lastSeen uint64
}

func NewRenderer(w io.Writer, barWidth int) *Renderer {
	if barWidth <= 0 {
		barWidth = defaultBarWidth
	}
	return &Renderer{w: w, width: barWidth}
}

// Render prints v unless a newer version was already printed.
func (r *Renderer) Render(v usecase.View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v.Version != 0 && v.Version <= r.lastSeen {
		return
	}
	r.lastSeen = v.Version
	_, _ = io.WriteString(r.w, Format(v, r.width))
}

// Format turns a view into text.
func Format(v usecase.View, barWidth int) string {
	var b strings.Builder
	switch v.State {
	case usecase.StateIdle:
		b.WriteString("no poll selected\n")
		return b.String()
	case usecase.StateLoading:
		fmt.Fprintf(&b, "poll %d: loading...\n", v.PollID)
		return b.String()
	case usecase.StateFailed:
		fmt.Fprintf(&b, "poll %d: %v\n", v.PollID, v.Err)
		return b.String()
	}
	if v.Stats == nil {
		fmt.Fprintf(&b, "poll %d: no data\n", v.PollID)
		return b.String()
	}

	s := v.Stats
	fmt.Fprintf(&b, "[%d] %s (%s)\n", s.PollID, s.Title, v.Source)
	if s.Question != "" {
		fmt.Fprintf(&b, "    %s\n", s.Question)
	}
	if s.TotalVotes == 0 {
		b.WriteString("    no votes yet\n")
	}
	for _, o := range s.Options {
		fmt.Fprintf(&b, "    %-*s %s %5d  %6.2f%%\n", maxLabel, label(o.Text), bar(o, barWidth), o.Count, o.Percentage)
	}
	fmt.Fprintf(&b, "    total: %d\n", s.TotalVotes)
	return b.String()
}

func label(s string) string {
	if utf8.RuneCountInString(s) <= maxLabel {
		return s
	}
	r := []rune(s)
	return string(r[:maxLabel-3]) + "..."
}

func bar(o models.OptionStat, width int) string {
	n := int(o.Percentage / 100 * float64(width))
	if n > width {
		n = width
	}
	if n < 0 {
		n = 0
	}
	return strings.Repeat("#", n) + strings.Repeat(".", width-n)
}

// SubmitMessage turns a submission result into the line shown to the voter.
func SubmitMessage(err error) string {
	if err == nil {
		return "vote recorded"
	}
	var se *pollapi.SubmitError
	if !errors.As(err, &se) {
		return "vote failed: " + err.Error()
	}
	switch se.Kind {
	case pollapi.KindExpired:
		return "this poll has ended"
	case pollapi.KindDuplicate:
		return "you have already voted in this poll"
	case pollapi.KindInvalidOption:
		return "that option does not exist"
	case pollapi.KindClosed:
		return "this poll is not open for voting"
	case pollapi.KindNotFound:
		return "poll not found"
	case pollapi.KindValidation:
		if se.Message != "" {
			return "invalid vote: " + se.Message
		}
		return "invalid vote"
	default:
		return "vote failed, try again later"
	}
}
