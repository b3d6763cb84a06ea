package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/haivivi/wreq/go/pkg/cli"
	"github.com/haivivi/wreq/go/pkg/cookie"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/rt"
	"github.com/haivivi/wreq/go/pkg/storage"
	"github.com/haivivi/wreq/go/pkg/wreq"
)

// session is everything one command invocation needs to talk to servers
// and storage.
type session struct {
	ctx    *cli.Context
	client *wreq.Client
	jar    *cookie.Jar
	opener *storage.Opener
	styles cli.Styles

	registry *prometheus.Registry
}

func newSession(noCookies bool) (*session, error) {
	ctx, err := getContext()
	if err != nil {
		return nil, err
	}

	s := &session{
		ctx:      ctx,
		opener:   &storage.Opener{},
		styles:   cli.NewStyles(cli.DefaultTheme),
		registry: prometheus.NewRegistry(),
	}
	s.registry.MustRegister(rt.NewCollector("", rt.Default()))
	if ctx.S3 != nil {
		s.opener.S3 = storage.NewS3Client(storage.S3Config{
			Region:       ctx.S3.Region,
			Endpoint:     ctx.S3.Endpoint,
			AccessKey:    ctx.S3.AccessKey,
			SecretKey:    ctx.S3.SecretKey,
			UsePathStyle: ctx.S3.PathStyle,
		})
	}

	var store cookie.Store
	if !noCookies {
		if store, err = openCookieStore(ctx); err != nil {
			return nil, err
		}
	}
	if s.jar, err = cookie.NewJar(store); err != nil {
		if store != nil {
			store.Close()
		}
		return nil, fmt.Errorf("load cookies: %w", err)
	}

	opts := []wreq.Option{
		wreq.WithCookieJar(s.jar),
		wreq.WithLogger(slog.Default()),
		wreq.WithMetrics(wreq.NewMetrics("", s.registry)),
	}
	if ctx.Timeout > 0 {
		opts = append(opts, wreq.WithTimeout(ctx.TimeoutDuration()))
	}
	if ctx.UserAgent != "" {
		opts = append(opts, wreq.WithUserAgent(ctx.UserAgent))
	}
	if ctx.MaxRedirects != 0 {
		opts = append(opts, wreq.WithRedirects(ctx.MaxRedirects))
	}
	if ctx.BodyCapacity > 0 {
		opts = append(opts, wreq.WithBodyCapacity(ctx.BodyCapacity))
	}
	if ctx.Proxy != "" {
		proxy, err := url.Parse(ctx.Proxy)
		if err != nil {
			s.jar.Close()
			return nil, fmt.Errorf("invalid proxy %q: %w", ctx.Proxy, err)
		}
		opts = append(opts, wreq.WithProxy(proxy))
	}
	for k, v := range ctx.Headers {
		opts = append(opts, wreq.WithHeader(k, v))
	}
	s.client = wreq.NewClient(opts...)
	return s, nil
}

// openCookieStore opens the context's Redis or Badger cookie store, or the
// default Badger one under the app directory.
func openCookieStore(ctx *cli.Context) (cookie.Store, error) {
	if ctx.CookieRedis != "" {
		store, err := cookie.OpenRedis(context.Background(), cookie.RedisOptions{URL: ctx.CookieRedis})
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	dir := ctx.CookieDir
	if dir == "" {
		paths, err := cli.NewPaths(appName)
		if err != nil {
			return nil, err
		}
		dir = paths.CookieDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create cookie dir: %w", err)
	}
	store, err := cookie.OpenBadger(cookie.BadgerOptions{Dir: dir})
	if err != nil {
		return nil, fmt.Errorf("open cookie store %s: %w", dir, err)
	}
	return store, nil
}

func (s *session) Close() error {
	return s.jar.Close()
}

// dumpMetrics writes the session's metrics in the Prometheus text format.
func (s *session) dumpMetrics(w io.Writer) error {
	families, err := s.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// requestOptions returns the per-request options every request of the
// session carries.
func (s *session) requestOptions() []wreq.RequestOption {
	if s.ctx.BearerToken == "" {
		return nil
	}
	return []wreq.RequestOption{wreq.BearerAuth(s.ctx.BearerToken)}
}

// interruptOnSignal interrupts threads on SIGINT. A second SIGINT exits
// immediately. The returned function stops watching.
func interruptOnSignal(threads ...*gvl.Thread) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigs:
		case <-done:
			return
		}
		slog.Debug("interrupted, stopping transfer")
		for _, t := range threads {
			t.Interrupt()
		}
		select {
		case <-sigs:
			os.Exit(130)
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

func parseHeader(s string) (key, value string, err error) {
	key, value, ok := strings.Cut(s, ":")
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return "", "", fmt.Errorf("invalid header %q, want \"Key: Value\"", s)
	}
	return key, strings.TrimSpace(value), nil
}
