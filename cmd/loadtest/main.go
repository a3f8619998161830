package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go-chat-live/internal/client"
	"go-chat-live/internal/logging"
	"go-chat-live/internal/realtime"

	flags "github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type options struct {
	BaseURL     string        `long:"base-url" env:"LOADTEST_BASE_URL" default:"http://localhost:8080" description:"Server to load"`
	Pairs       int           `long:"pairs" default:"50" description:"Number of user pairs; each pair chats 1:1"`
	Messages    int           `long:"messages" default:"20" description:"Messages per user (keep within the send quota)"`
	Concurrency int           `long:"concurrency" default:"100" description:"Pairs running at once"`
	Interval    time.Duration `long:"interval" default:"10ms" description:"Pause between two sends of one user"`
	Settle      time.Duration `long:"settle" default:"2s" description:"How long to wait for in-flight events after the last send"`
	LogLevel    string        `long:"log-level" default:"info"`
}

type stats struct {
	sent     atomic.Int64
	received atomic.Int64
	typing   atomic.Int64
	failed   atomic.Int64
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	logging.Setup(opts.LogLevel, true)

	log.Info().Int("users", opts.Pairs*2).Int("messages", opts.Messages).Msg("🔥 STARTING STRESS TEST")
	start := time.Now()
	st := &stats{}

	// We will create pairs: User 0 talks to User 1, User 2 talks to User 3...
	g, ctx := errgroup.WithContext(context.Background())
	g.SetLimit(opts.Concurrency)
	for i := 0; i < opts.Pairs; i++ {
		pairID := i
		g.Go(func() error {
			if err := runPair(ctx, opts, st, pairID); err != nil {
				st.failed.Add(1)
				log.Warn().Err(err).Int("pair", pairID).Msg("❌ pair failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	expected := st.sent.Load()
	log.Info().
		Int64("sent", expected).
		Int64("received", st.received.Load()).
		Int64("typing_events", st.typing.Load()).
		Int64("failed_pairs", st.failed.Load()).
		Dur("elapsed", time.Since(start)).
		Msg("✅ LOAD TEST COMPLETE")
	if st.received.Load() < expected {
		log.Warn().Int64("missing", expected-st.received.Load()).Msg("some live deliveries were lost")
	}
}

func runPair(ctx context.Context, opts options, st *stats, pairID int) error {
	// 1. Register & Login both sides
	userA := fmt.Sprintf("u_%d_a", pairID)
	userB := fmt.Sprintf("u_%d_b", pairID)

	a, err := connect(ctx, opts.BaseURL, userA, st)
	if err != nil {
		return err
	}
	defer a.Close()
	b, err := connect(ctx, opts.BaseURL, userB, st)
	if err != nil {
		return err
	}
	defer b.Close()

	// 2. User A starts the conversation with User B
	c, err := a.API.CreateChat(ctx, b.API.UserID)
	if err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	if err := a.OpenChat(c); err != nil {
		return err
	}
	if err := b.OpenChat(c); err != nil {
		return err
	}

	// 3. Both sides type and send
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range []*client.Session{a, b} {
		s := s
		g.Go(func() error { return spam(ctx, opts, st, s) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	time.Sleep(opts.Settle)
	return nil
}

// connect registers (ignores error if exists), logs in and opens the event connection.
func connect(ctx context.Context, baseURL, username string, st *stats) (*client.Session, error) {
	const password = "password123"
	api := client.NewAPI(baseURL)

	if _, err := api.Register(ctx, username, password); err != nil {
		var apiErr *client.APIError
		if !errors.As(err, &apiErr) {
			return nil, fmt.Errorf("register %s: %w", username, err)
		}
	}
	if _, err := api.Login(ctx, username, password); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}

	s, err := client.NewSession(ctx, api)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", username, err)
	}
	s.Conn.On(realtime.EventMessageReceived, func(json.RawMessage) error {
		st.received.Add(1)
		return nil
	})
	s.Conn.On(realtime.EventTyping, func(json.RawMessage) error {
		st.typing.Add(1)
		return nil
	})
	return s, nil
}

func spam(ctx context.Context, opts options, st *stats, s *client.Session) error {
	for i := 0; i < opts.Messages; i++ {
		s.Keystroke()
		content := fmt.Sprintf("LoadTest Msg %d from %d", i, s.API.UserID)
		if _, err := s.SendMessage(ctx, content); err != nil {
			return fmt.Errorf("send: %w", err)
		}
		st.sent.Add(1)

		// Small sleep to prevent instant localhost bottleneck (simulate real network)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Interval):
		}
	}
	log.Debug().Int("user_id", s.API.UserID).Int("messages", opts.Messages).Msg("finished sending")
	return nil
}
