package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/service/pollapi"
	"PollPulse/internal/usecase"
)

func liveView(version uint64, counts ...int64) usecase.View {
	s := models.StatsSnapshot{PollID: 7, Title: "Lunch", Question: "Where?"}
	for i, c := range counts {
		s.Options = append(s.Options, models.OptionStat{ID: int64(i + 1), Text: "opt", Count: c})
		s.TotalVotes += c
	}
	s = s.WithPercentages()
	return usecase.View{PollID: 7, State: usecase.StateLive, Stats: &s, Source: usecase.SourcePush, Version: version}
}

func TestFormatLive(t *testing.T) {
	out := Format(liveView(1, 3, 1), 20)
	for _, want := range []string{"[7] Lunch (push)", "Where?", "75.00%", "25.00%", "total: 4", strings.Repeat("#", 15) + strings.Repeat(".", 5)} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestFormatStates(t *testing.T) {
	cases := []struct {
		v    usecase.View
		want string
	}{
		{usecase.View{State: usecase.StateIdle}, "no poll selected"},
		{usecase.View{PollID: 3, State: usecase.StateLoading}, "poll 3: loading"},
		{usecase.View{PollID: 3, State: usecase.StateFailed, Err: errors.New("boom")}, "poll 3: boom"},
		{liveView(1, 0, 0), "no votes yet"},
	}
	for _, tc := range cases {
		if got := Format(tc.v, 10); !strings.Contains(got, tc.want) {
			t.Errorf("Format(%v) = %q, want %q", tc.v.State, got, tc.want)
		}
	}
}

func TestLabelTruncates(t *testing.T) {
	long := strings.Repeat("x", 40)
	got := label(long)
	if len(got) != maxLabel || !strings.HasSuffix(got, "...") {
		t.Fatalf("label = %q", got)
	}
	if label("short") != "short" {
		t.Fatal("short label changed")
	}
}

func TestRendererSkipsStaleVersions(t *testing.T) {
	var buf bytes.Buffer
	r := NewRenderer(&buf, 10)
	r.Render(liveView(2, 1))
	r.Render(liveView(1, 5))
	if strings.Contains(buf.String(), "total: 5") {
		t.Fatalf("stale view rendered:\n%s", buf.String())
	}
	r.Render(liveView(3, 2))
	if !strings.Contains(buf.String(), "total: 2") {
		t.Fatalf("newer view missing:\n%s", buf.String())
	}
}

func TestSubmitMessage(t *testing.T) {
	cases := map[string]error{
		"vote recorded":                        nil,
		"this poll has ended":                  &pollapi.SubmitError{Kind: pollapi.KindExpired},
		"you have already voted in this poll":  &pollapi.SubmitError{Kind: pollapi.KindDuplicate},
		"invalid vote: option_ids is required": &pollapi.SubmitError{Kind: pollapi.KindValidation, Message: "option_ids is required"},
		"vote failed, try again later":         &pollapi.SubmitError{Kind: pollapi.KindServer},
		"vote failed: dial tcp: refused":       errors.New("dial tcp: refused"),
	}
	for want, err := range cases {
		if got := SubmitMessage(err); got != want {
			t.Errorf("SubmitMessage(%v) = %q, want %q", err, got, want)
		}
	}
}
