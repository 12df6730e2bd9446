package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"roomchat/internal/config"
	"roomchat/internal/content"
	"roomchat/internal/metrics"
	"roomchat/internal/models"
	"roomchat/internal/render"
	"roomchat/internal/roster"
	"roomchat/internal/session"
	"roomchat/internal/storage"
	"roomchat/internal/ws"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	flags := flag.NewFlagSet("roomchat", flag.ContinueOnError)
	user := flags.String("user", "", "Display name (defaults to the last one used)")
	room := flags.String("room", "", "Lowercase room name (defaults to the last one used)")
	forget := flags.Bool("forget", false, "Forget the saved username and room, then exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	store, err := storage.NewBboltStorage(cfg.StateDB)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if *forget {
		return store.ForgetIdentity()
	}

	identity, err := resolveIdentity(store, *user, *room)
	if err != nil {
		return err
	}

	codec, err := cfg.Codec()
	if err != nil {
		return err
	}

	renderer, err := render.New(cfg.Format)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.New(registry)

	feed := session.NewFeed()
	defer feed.Close()

	chat, err := session.New(session.Config{
		Identity: identity,
		Transport: ws.Factory(ws.Config{
			URL:          cfg.ServerURL,
			WriteTimeout: cfg.WriteTimeout,
			Logger:       logger,
		}),
		Codec:   codec,
		OnEvent: feed.Publish,
		Logger:  logger,
		Metrics: collector,
	})
	if err != nil {
		return err
	}

	if err := store.SaveIdentity(identity); err != nil {
		logger.Warn("failed to save identity", "error", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		metricsServer := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}

		g.Go(func() error {
			err := metricsServer.ListenAndServe()
			if err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})

		g.Go(func() error {
			<-gCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}

	out := &syncWriter{w: stdout}
	members := roster.New()
	lines := readLines(stdin)

	// The stream is detached from ctx. Cancellation reaches it through
	// chat.Close, which sends the leave announcement first.
	if err := chat.Open(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	logger.Info("connecting", "url", cfg.ServerURL, "user", identity.Username, "room", identity.Room)

	if cfg.ConnectTimeout > 0 {
		timer := time.AfterFunc(cfg.ConnectTimeout, func() {
			if chat.State() == models.StateConnecting {
				logger.Warn("connect timed out", "timeout", cfg.ConnectTimeout)
				_ = chat.Close()
			}
		})
		defer timer.Stop()
	}

	// Print events until the session ends
	g.Go(func() error {
		defer cancel()
		for ev := range feed.Events() {
			members.Apply(ev)
			line, err := renderer(ev)
			if err != nil {
				logger.Warn("failed to render event", "kind", ev.Kind, "error", err)
				continue
			}
			out.Println(line)
		}
		return nil
	})

	// Relay user input until quit, EOF or cancellation
	g.Go(func() error {
		defer func() { _ = chat.Close() }()
		for {
			select {
			case <-gCtx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleLine(chat, members, out, logger, line); quit {
					return nil
				}
			}
		}
	})

	return g.Wait()
}

func resolveIdentity(store *storage.BboltStorage, user, room string) (models.Identity, error) {
	saved, err := store.LoadIdentity()
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return models.Identity{}, err
	}

	identity := models.Identity{Username: user, Room: room}
	if identity.Username == "" {
		identity.Username = saved.Username
	}
	if identity.Room == "" {
		identity.Room = saved.Room
	}

	if err := content.ValidateIdentity(identity); err != nil {
		return models.Identity{}, fmt.Errorf("%w (use -user and -room)", err)
	}
	return identity, nil
}

func handleLine(chat *session.Session, members *roster.Roster, out *syncWriter, logger *slog.Logger, line string) bool {
	line = strings.TrimRight(line, "\r\n")
	switch {
	case strings.TrimSpace(line) == "":
		return false
	case line == "/quit":
		return true
	case line == "/who":
		out.Println(fmt.Sprintf("In room %s: %s", chat.Identity().Room, strings.Join(members.Names(), ", ")))
		return false
	}

	if err := chat.Send(line); err != nil {
		if errors.Is(err, models.ErrSessionClosed) {
			return true
		}
		logger.Warn("message not sent", "error", err)
	}
	return false
}

// readLines feeds stdin lines to a channel that is closed on EOF. The reader
// goroutine is left behind when the session ends first.
func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Println(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintln(s.w, line)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
