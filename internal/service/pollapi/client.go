package pollapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"PollPulse/internal/domain/models"
	"PollPulse/internal/domain/service"
	xhttp "PollPulse/pkg/http"
	applogger "PollPulse/pkg/logger"
)

// VoterHeader carries the voter identity used for duplicate detection.
const VoterHeader = "X-Voter-ID"

const maxBody = 1 << 20

var _ service.PollAPI = (*Client)(nil)

// Client talks to the poll backend over its JSON envelope API.
type Client struct {
	base string
	http *xhttp.Client
	log  *applogger.Logger
}

type Option func(*clientOptions)

type clientOptions struct {
	timeout time.Duration
	voterID string
	http    *xhttp.Client
	log     *applogger.Logger
}

// WithRequestTimeout bounds every request. Ignored with WithHTTPClient.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// WithVoterID sends id as the voter identity on every request.
func WithVoterID(id string) Option {
	return func(o *clientOptions) { o.voterID = id }
}

func WithHTTPClient(c *xhttp.Client) Option {
	return func(o *clientOptions) { o.http = c }
}

func WithLogger(l *applogger.Logger) Option {
	return func(o *clientOptions) { o.log = l }
}

// New creates a client for baseURL, e.g. http://localhost:8888/api/v1.
func New(baseURL string, opts ...Option) *Client {
	o := clientOptions{timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if o.http == nil {
		hopts := []xhttp.ClientOption{xhttp.WithTimeout(o.timeout)}
		if o.voterID != "" {
			hopts = append(hopts, xhttp.WithDefaultHeader(VoterHeader, o.voterID))
		}
		o.http = xhttp.NewClient(hopts...)
	}
	if o.log == nil {
		o.log = applogger.Nop()
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: o.http,
		log:  o.log.With(applogger.String("component", "pollapi")),
	}
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string { return c.base }

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// do sends one request and decodes the envelope's data into dest.
func (c *Client) do(ctx context.Context, opts *xhttp.RequestOptions, dest interface{}) error {
	opts.URL = c.base + opts.URL
	start := time.Now()

	resp, err := c.http.SendRequest(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	c.log.Debug("poll api request",
		applogger.String("method", opts.Method),
		applogger.String("url", opts.URL),
		applogger.Int("status", resp.StatusCode),
		applogger.Duration("latency_ms", time.Since(start)),
	)

	var env envelope
	decErr := json.Unmarshal(body, &env)
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok || decErr != nil || !env.Success {
		ae := &APIError{Status: resp.StatusCode, Code: env.Code, Message: env.Message}
		if decErr != nil {
			ae.Message = strings.TrimSpace(string(body))
			if ok {
				return fmt.Errorf("decode envelope: %w", decErr)
			}
		}
		return ae
	}

	if dest == nil || len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(env.Data, dest); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

func pollPath(id models.PollID, suffix string) string {
	return "/polls/" + id.String() + suffix
}

// ListPolls returns poll summaries, newest first.
func (c *Client) ListPolls(ctx context.Context, skip, limit int, activeOnly bool) ([]models.PollSummary, error) {
	q := map[string][]string{
		"skip":  {strconv.Itoa(skip)},
		"limit": {strconv.Itoa(limit)},
	}
	if activeOnly {
		q["active_only"] = []string{"true"}
	}
	var out []models.PollSummary
	if err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: "/polls", QueryParams: q}, &out); err != nil {
		return nil, fmt.Errorf("list polls: %w", err)
	}
	return out, nil
}

func (c *Client) GetPoll(ctx context.Context, id models.PollID) (*models.Poll, error) {
	var p models.Poll
	if err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: pollPath(id, "")}, &p); err != nil {
		return nil, fmt.Errorf("get poll %d: %w", id, err)
	}
	return &p, nil
}

// FetchStats reads GET /polls/{id}/stats.
func (c *Client) FetchStats(ctx context.Context, id models.PollID) (models.StatsSnapshot, error) {
	var s models.StatsSnapshot
	if err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodGet, URL: pollPath(id, "/stats")}, &s); err != nil {
		return models.StatsSnapshot{}, fmt.Errorf("fetch stats %d: %w", id, err)
	}
	if s.PollID == 0 {
		s.PollID = id
	}
	return s.WithPercentages(), nil
}

// SubmitVote casts a vote. Failures are *SubmitError.
func (c *Client) SubmitVote(ctx context.Context, id models.PollID, optionIDs []int64) (models.StatsSnapshot, error) {
	var body interface{} = map[string][]int64{"option_ids": optionIDs}
	if len(optionIDs) == 1 {
		body = map[string]int64{"option_ids": optionIDs[0]}
	}

	var s models.StatsSnapshot
	err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodPost, URL: pollPath(id, "/submit"), Body: body}, &s)
	if err != nil {
		se := newSubmitError(err)
		c.log.Warn("vote rejected",
			applogger.Int64("poll_id", int64(id)),
			applogger.String("kind", string(se.Kind)),
			applogger.Int("code", se.Code),
		)
		return models.StatsSnapshot{}, se
	}
	if s.PollID == 0 {
		s.PollID = id
	}
	return s.WithPercentages(), nil
}

func (c *Client) CreatePoll(ctx context.Context, req *models.CreatePollRequest) (*models.Poll, error) {
	var p models.Poll
	if err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodPost, URL: "/polls", Body: req}, &p); err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	return &p, nil
}

func (c *Client) DeletePoll(ctx context.Context, id models.PollID) error {
	if err := c.do(ctx, &xhttp.RequestOptions{Method: xhttp.MethodDelete, URL: pollPath(id, "")}, nil); err != nil {
		return fmt.Errorf("delete poll %d: %w", id, err)
	}
	return nil
}
