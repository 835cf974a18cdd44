package pollapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"PollPulse/internal/domain/models"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, code int, msg string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": success,
		"code":    code,
		"message": msg,
		"data":    data,
	})
}

func TestFetchStatsRecomputesPercentages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/polls/7/stats" {
			t.Errorf("path = %s", r.URL.Path)
		}
		writeEnvelope(w, 200, true, 0, "OK", map[string]interface{}{
			"poll_id":     7,
			"total_votes": 3,
			"options": []map[string]interface{}{
				{"id": 1, "text": "a", "count": 1, "percentage": 99},
				{"id": 2, "text": "b", "count": 2},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL + "/api/v1/")
	s, err := c.FetchStats(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if s.TotalVotes != 3 || len(s.Options) != 2 {
		t.Fatalf("stats = %+v", s)
	}
	if s.Options[0].Percentage != 33.33 || s.Options[1].Percentage != 66.67 {
		t.Fatalf("percentages = %v, %v", s.Options[0].Percentage, s.Options[1].Percentage)
	}
}

func TestFetchStatsNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, 404, false, models.CodePollNotFound, "Poll not found", nil)
	}))
	defer srv.Close()

	_, err := New(srv.URL).FetchStats(context.Background(), 9)
	if !errors.Is(err, models.ErrPollNotFound) {
		t.Fatalf("err = %v", err)
	}
	var ae *APIError
	if !errors.As(err, &ae) || ae.Status != 404 {
		t.Fatalf("err = %#v", err)
	}
}

func TestSubmitVoteBodyAndVoterHeader(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(VoterHeader); got != "alice" {
			t.Errorf("voter header = %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		writeEnvelope(w, 200, true, 0, "Vote submitted", models.StatsSnapshot{
			PollID: 7, TotalVotes: 1,
			Options: []models.OptionStat{{ID: 1, Count: 1}, {ID: 2}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, WithVoterID("alice"))
	s, err := c.SubmitVote(context.Background(), 7, []int64{1})
	if err != nil {
		t.Fatal(err)
	}
	if s.Options[0].Percentage != 100 {
		t.Fatalf("stats = %+v", s)
	}
	if _, err := c.SubmitVote(context.Background(), 7, []int64{1, 2}); err != nil {
		t.Fatal(err)
	}

	if bodies[0] != `{"option_ids":1}` {
		t.Fatalf("single body = %s", bodies[0])
	}
	if bodies[1] != `{"option_ids":[1,2]}` {
		t.Fatalf("multi body = %s", bodies[1])
	}
}

func TestSubmitVoteClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   int
		body   string
		want   SubmitKind
		is     error
	}{
		{"expired", 400, models.CodePollExpired, "", KindExpired, models.ErrPollExpired},
		{"duplicate", 400, models.CodeDuplicateVote, "", KindDuplicate, models.ErrDuplicateVote},
		{"invalid option", 400, models.CodeOptionNotFound, "", KindInvalidOption, models.ErrOptionNotFound},
		{"closed", 400, models.CodePollClosed, "", KindClosed, models.ErrPollClosed},
		{"not found", 404, models.CodePollNotFound, "", KindNotFound, models.ErrPollNotFound},
		{"validation", 400, models.CodeValidation, "", KindValidation, models.ErrInvalidVote},
		{"status conflict", 409, 0, "", KindDuplicate, nil},
		{"status gone", 410, 0, "", KindExpired, nil},
		{"plain 500", 500, 0, "oops", KindServer, nil},
		{"plain 404", 404, 0, "nope", KindNotFound, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.body != "" {
					w.WriteHeader(tc.status)
					_, _ = io.WriteString(w, tc.body)
					return
				}
				writeEnvelope(w, tc.status, false, tc.code, "rejected", nil)
			}))
			defer srv.Close()

			_, err := New(srv.URL).SubmitVote(context.Background(), 7, []int64{1})
			var se *SubmitError
			if !errors.As(err, &se) {
				t.Fatalf("err = %#v", err)
			}
			if se.Kind != tc.want || se.Status != tc.status {
				t.Fatalf("kind=%s status=%d", se.Kind, se.Status)
			}
			if tc.is != nil && !errors.Is(err, tc.is) {
				t.Fatalf("errors.Is(%v) = false", tc.is)
			}
		})
	}
}

func TestSubmitVoteTransportFailureIsServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := New(url).SubmitVote(context.Background(), 7, []int64{1})
	var se *SubmitError
	if !errors.As(err, &se) || se.Kind != KindServer {
		t.Fatalf("err = %v", err)
	}
}

func TestListPollsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("skip") != "5" || q.Get("limit") != "10" || q.Get("active_only") != "true" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		writeEnvelope(w, 200, true, 0, "OK", []models.PollSummary{{ID: 1, Title: "a"}})
	}))
	defer srv.Close()

	got, err := New(srv.URL).ListPolls(context.Background(), 5, 10, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != 1 {
		t.Fatalf("polls = %+v", got)
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer srv.Close()

	_, err := New(srv.URL).GetPoll(context.Background(), 1)
	if err == nil {
		t.Fatal("expected decode error")
	}
	var ae *APIError
	if errors.As(err, &ae) {
		t.Fatalf("decode failure reported as API error: %v", err)
	}
}
