package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"PollPulse/internal/di"
	"PollPulse/internal/domain/models"
	"PollPulse/internal/handler/cli"
	"PollPulse/pkg/config"
	applogger "PollPulse/pkg/logger"
	"PollPulse/pkg/util"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "config file path")
		pollFlag   = flag.String("poll", "", "poll id to watch")
		voteFlag   = flag.String("vote", "", "comma separated option ids to vote for once connected")
		transport  = flag.String("transport", "", "sse or websocket (overrides config)")
		baseURL    = flag.String("base-url", "", "poll API base URL (overrides config)")
		voterID    = flag.String("voter", "", "voter id sent as X-Voter-ID")
		width      = flag.Int("width", 30, "bar width")
	)
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if *transport != "" {
		cfg.Client.Transport = *transport
	}
	if *baseURL != "" {
		cfg.Client.BaseURL = *baseURL
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	id, err := models.ParsePollID(*pollFlag)
	if err != nil {
		log.Fatalf("-poll: %v", err)
	}
	votes, err := parseOptionIDs(*voteFlag)
	if err != nil {
		log.Fatalf("-vote: %v", err)
	}

	w, err := di.InitializeWatcher(cfg, *voterID)
	if err != nil {
		log.Fatalf("watcher initialization failed: %v", err)
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := cli.NewRenderer(os.Stdout, *width)
	w.Reconciler.OnChange(r.Render)
	if err := w.Reconciler.SetPollID(ctx, id); err != nil {
		log.Fatalf("watch poll %d: %v", id, err)
	}
	w.Log.Info("watching poll",
		applogger.Int64("poll_id", int64(id)),
		applogger.String("transport", cfg.Client.Transport),
		applogger.String("base_url", cfg.Client.BaseURL),
	)

	if len(votes) > 0 {
		subCtx, cancel := context.WithTimeout(ctx, cfg.Client.RequestTimeout)
		_, err := w.Reconciler.SubmitVote(subCtx, votes...)
		cancel()
		fmt.Fprintln(os.Stdout, cli.SubmitMessage(err))
		if err == nil {
			refCtx, cancel := context.WithTimeout(ctx, cfg.Client.RequestTimeout)
			if err := w.Reconciler.RefetchAfterSubmit(refCtx); err != nil {
				w.Log.Warn("stats refetch after vote failed", applogger.Error(err))
			}
			cancel()
		}
	}

	<-ctx.Done()
}

func parseOptionIDs(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		n, ok := util.ParsePositiveInt64(strings.TrimSpace(part))
		if !ok {
			return nil, fmt.Errorf("invalid option id %q", part)
		}
		ids = append(ids, n)
	}
	return ids, nil
}
