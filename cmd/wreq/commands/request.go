package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/itchyny/gojq"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/haivivi/wreq/go/pkg/body"
	"github.com/haivivi/wreq/go/pkg/cli"
	"github.com/haivivi/wreq/go/pkg/gvl"
	"github.com/haivivi/wreq/go/pkg/storage"
	"github.com/haivivi/wreq/go/pkg/wreq"
)

const defaultChunkSize = 64 << 10

// requestFlags holds the flags of one request command.
type requestFlags struct {
	headers   []string
	query     []string
	output    string
	jq        string
	asJSON    bool
	fail      bool
	include   bool
	noCookies bool
	metrics   bool
	file      string

	// Body flags, only registered on commands that send a body.
	data      string
	form      []string
	chunkSize string
	capacity  int
	limitRate string
}

func newMethodCmds() []*cobra.Command {
	return []*cobra.Command{
		newMethodCmd(http.MethodGet, false),
		newMethodCmd(http.MethodHead, false),
		newMethodCmd(http.MethodDelete, false),
		newMethodCmd(http.MethodPost, true),
		newMethodCmd(http.MethodPut, true),
		newMethodCmd(http.MethodPatch, true),
	}
}

func newMethodCmd(method string, withBody bool) *cobra.Command {
	fl := &requestFlags{}
	cmd := &cobra.Command{
		Use:   strings.ToLower(method) + " <url>",
		Short: "Send a " + method + " request",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) > 0 {
				target = args[0]
			}
			return runRequest(cmd.Context(), method, target, fl)
		},
	}
	if withBody {
		cmd.Long = `Send a ` + method + ` request.

The body is given with -d: "@path", "@-" or "@s3://bucket/key" stream the
source in chunks; anything else is sent as text. --form sends an
URL-encoded form instead.

Examples:
  wreq ` + strings.ToLower(method) + ` https://httpbin.org/anything -d 'hello'
  wreq ` + strings.ToLower(method) + ` /v1/upload -d @big.bin --chunk-size 1M --limit-rate 512K
  wreq ` + strings.ToLower(method) + ` /v1/upload -d @s3://bucket/big.bin -o s3://bucket/reply.json`
	}
	addRequestFlags(cmd, fl, withBody)
	return cmd
}

var requestFl = &requestFlags{}

var requestCmd = &cobra.Command{
	Use:   "request -f <file> [url]",
	Short: "Send a request described by a YAML or JSON file",
	Long: `Send a request described by a YAML or JSON file.

Example file:
  method: POST
  url: /v1/items
  headers:
    X-Trace: abc
  json:
    name: widget

A URL argument overrides the file's url. body_from streams a file, "-" or
an s3:// object as the body.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if requestFl.file == "" {
			return fmt.Errorf("-f is required")
		}
		target := ""
		if len(args) > 0 {
			target = args[0]
		}
		return runRequest(cmd.Context(), "", target, requestFl)
	},
}

func init() {
	addRequestFlags(requestCmd, requestFl, true)
}

func addRequestFlags(cmd *cobra.Command, fl *requestFlags, withBody bool) {
	f := cmd.Flags()
	f.StringArrayVarP(&fl.headers, "header", "H", nil, "request header (\"Key: Value\")")
	f.StringArrayVarP(&fl.query, "query", "q", nil, "query parameter (key=value)")
	f.StringVarP(&fl.output, "output", "o", "-", "write the body to a file, - or s3://bucket/key")
	f.StringVar(&fl.jq, "jq", "", "filter the JSON body with a jq expression")
	f.BoolVar(&fl.asJSON, "json", false, "decode the body as JSON and print it indented")
	f.BoolVar(&fl.fail, "fail", false, "exit with an error on 4xx and 5xx responses")
	f.BoolVarP(&fl.include, "include", "i", false, "print the status line and headers to stderr")
	f.BoolVar(&fl.noCookies, "no-cookies", false, "do not load or store persistent cookies")
	f.BoolVar(&fl.metrics, "metrics", false, "print client and runtime metrics to stderr when done")
	f.StringVarP(&fl.file, "file", "f", "", "request file (YAML or JSON)")
	if !withBody {
		return
	}
	f.StringVarP(&fl.data, "data", "d", "", "body: text, or @path, @- or @s3://bucket/key to stream")
	f.StringArrayVar(&fl.form, "form", nil, "URL-encoded form field (key=value)")
	f.StringVar(&fl.chunkSize, "chunk-size", "64K", "chunk size of streamed bodies")
	f.IntVar(&fl.capacity, "capacity", 0, "chunks buffered between reader and connection")
	f.StringVar(&fl.limitRate, "limit-rate", "", "limit upload speed, in bytes per second (e.g. 512K)")
}

// transfer is one request: its options, its optional streamed body and
// where the response goes.
type transfer struct {
	sess   *session
	fl     *requestFlags
	method string
	url    string
	opts   []wreq.RequestOption
	jq     *gojq.Query

	// src is streamed as the body when set.
	src       io.ReadCloser
	chunkSize int
	capacity  int
	limiter   *rate.Limiter
}

func runRequest(ctx context.Context, method, target string, fl *requestFlags) error {
	sess, err := newSession(fl.noCookies)
	if err != nil {
		return err
	}
	defer sess.Close()

	tr := &transfer{sess: sess, fl: fl, opts: sess.requestOptions()}
	if err := tr.build(ctx, method, target); err != nil {
		return err
	}
	if tr.src != nil {
		defer tr.src.Close()
	}
	err = tr.run(ctx)
	if fl.metrics {
		if merr := sess.dumpMetrics(os.Stderr); merr != nil {
			slog.Warn("dump metrics", "error", merr)
		}
	}
	return err
}

// build resolves the method, URL and body from the request file and flags.
// Flags win over the file.
func (tr *transfer) build(ctx context.Context, method, target string) error {
	fl := tr.fl
	data := fl.data
	if fl.file != "" {
		var rf cli.RequestFile
		if err := cli.LoadRequest(fl.file, &rf); err != nil {
			return err
		}
		if err := rf.Validate(); err != nil {
			return err
		}
		if method == "" {
			method = strings.ToUpper(rf.Method)
		}
		if target == "" {
			target = rf.URL
		}
		for k, v := range rf.Headers {
			tr.opts = append(tr.opts, wreq.Header(k, v))
		}
		for k, v := range rf.Query {
			tr.opts = append(tr.opts, wreq.Query(k, v))
		}
		switch {
		case rf.JSON != nil:
			tr.opts = append(tr.opts, wreq.JSON(rf.JSON))
		case rf.Form != nil:
			form := url.Values{}
			for k, v := range rf.Form {
				form.Set(k, v)
			}
			tr.opts = append(tr.opts, wreq.Form(form))
		case rf.Body != "":
			tr.opts = append(tr.opts, wreq.Text(rf.Body))
		case rf.BodyFrom != "" && data == "":
			data = "@" + rf.BodyFrom
		}
	}
	if method == "" {
		method = http.MethodGet
	}
	if target == "" {
		return fmt.Errorf("url is required")
	}
	tr.method = method
	tr.url = tr.sess.ctx.ResolveURL(target)

	for _, h := range fl.headers {
		k, v, err := parseHeader(h)
		if err != nil {
			return err
		}
		tr.opts = append(tr.opts, wreq.Header(k, v))
	}
	for _, q := range fl.query {
		k, v, ok := strings.Cut(q, "=")
		if !ok {
			return fmt.Errorf("invalid query %q, want key=value", q)
		}
		tr.opts = append(tr.opts, wreq.Query(k, v))
	}
	if fl.jq != "" {
		q, err := gojq.Parse(fl.jq)
		if err != nil {
			return fmt.Errorf("invalid jq expression: %w", err)
		}
		tr.jq = q
	}

	if len(fl.form) > 0 {
		if data != "" {
			return fmt.Errorf("--form and -d cannot be used together")
		}
		form := url.Values{}
		for _, kv := range fl.form {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("invalid form field %q, want key=value", kv)
			}
			form.Add(k, v)
		}
		tr.opts = append(tr.opts, wreq.Form(form))
	}

	if data == "" {
		return nil
	}
	if !strings.HasPrefix(data, "@") {
		tr.opts = append(tr.opts, wreq.Text(data))
		return nil
	}
	return tr.openSource(ctx, data[1:])
}

func (tr *transfer) openSource(ctx context.Context, from string) error {
	fl := tr.fl
	ref, err := storage.Parse(from)
	if err != nil {
		return err
	}
	src, size, err := tr.sess.opener.Open(ctx, ref)
	if err != nil {
		return fmt.Errorf("open %s: %w", ref, err)
	}
	tr.src = src
	slog.Debug("streaming body", "from", ref.String(), "size", cli.FormatBytes(size))

	tr.chunkSize = defaultChunkSize
	if fl.chunkSize != "" {
		n, err := cli.ParseBytes(fl.chunkSize)
		if err != nil {
			return fmt.Errorf("--chunk-size: %w", err)
		}
		if n <= 0 {
			return fmt.Errorf("--chunk-size must be positive")
		}
		tr.chunkSize = int(n)
	}
	tr.capacity = fl.capacity
	if tr.capacity <= 0 {
		tr.capacity = tr.sess.ctx.BodyCapacity
	}
	if tr.capacity <= 0 {
		tr.capacity = body.DefaultCapacity
	}
	if fl.limitRate != "" {
		bps, err := cli.ParseBytes(fl.limitRate)
		if err != nil {
			return fmt.Errorf("--limit-rate: %w", err)
		}
		if bps <= 0 {
			return fmt.Errorf("--limit-rate must be positive")
		}
		tr.limiter = rate.NewLimiter(rate.Limit(bps), max(int(bps), tr.chunkSize))
	}
	return nil
}

// run performs the request on an interpreter thread. A streamed body is
// produced by a second thread pushing into a body channel while the first
// one sends it.
func (tr *transfer) run(ctx context.Context) error {
	in := gvl.New()
	opts := tr.opts

	var producer *gvl.Thread
	var rx *body.Receiver
	if tr.src != nil {
		var tx *body.Sender
		tx, rx = body.NewChannel(tr.capacity)
		opts = append(slices.Clip(opts), wreq.Stream(rx))
		producer = in.Go(func(t *gvl.Thread) error {
			return pump(t, tx, tr.src, tr.chunkSize, tr.limiter)
		})
	}
	requester := in.Go(func(t *gvl.Thread) error {
		if rx != nil {
			defer rx.Close()
		}
		return tr.fetch(ctx, t, opts)
	})

	threads := []*gvl.Thread{requester}
	if producer != nil {
		threads = append(threads, producer)
	}
	stop := interruptOnSignal(threads...)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(requester.Wait)
	if producer != nil {
		g.Go(producer.Wait)
		// A failed request must not leave the producer blocked.
		stopInterrupt := context.AfterFunc(gctx, producer.Interrupt)
		defer stopInterrupt()
	}
	err := g.Wait()
	if errors.Is(err, gvl.ErrInterrupted) {
		return fmt.Errorf("interrupted")
	}
	return err
}

// pump reads src in chunks and pushes them into tx, aborting the upload on
// a read error or interrupt.
func pump(t *gvl.Thread, tx *body.Sender, src io.ReadCloser, chunkSize int, lim *rate.Limiter) (err error) {
	defer func() {
		switch {
		case err == nil:
			tx.Close()
		case errors.Is(err, body.ErrChannelClosed):
			// The request ended without reading the whole body; its own
			// result is what gets reported.
			err = nil
		default:
			tx.Abort(err.Error())
		}
	}()

	type readResult struct {
		n   int
		err error
	}
	// Push copies, so one read buffer serves every chunk.
	chunk := make([]byte, chunkSize)
	for {
		if err := t.CheckInterrupt(); err != nil {
			return err
		}
		r := gvl.NoGVLCancellable(t, func(sig *gvl.Signal) readResult {
			// Closing the source is the only way to stop a blocked read.
			stop := context.AfterFunc(sig.Context(), func() {
				if sig.Cancelled() {
					src.Close()
				}
			})
			defer stop()
			n, err := src.Read(chunk)
			if sig.Cancelled() {
				return readResult{err: gvl.ErrInterrupted}
			}
			return readResult{n, err}
		})
		if r.n > 0 {
			if lim != nil {
				if err := waitRate(t, lim, r.n); err != nil {
					return err
				}
			}
			if err := tx.Push(t, chunk[:r.n]); err != nil {
				return err
			}
		}
		if r.err == io.EOF {
			return nil
		}
		if r.err != nil {
			return r.err
		}
	}
}

func waitRate(t *gvl.Thread, lim *rate.Limiter, n int) error {
	return gvl.NoGVLCancellable(t, func(sig *gvl.Signal) error {
		if err := lim.WaitN(sig.Context(), n); err != nil {
			if sig.Cancelled() {
				return gvl.ErrInterrupted
			}
			return err
		}
		return nil
	})
}

func (tr *transfer) fetch(ctx context.Context, t *gvl.Thread, opts []wreq.RequestOption) error {
	start := time.Now()
	resp, err := tr.sess.client.Do(t, tr.method, tr.url, opts...)
	if err != nil {
		return err
	}
	defer resp.Close()
	slog.Debug("response",
		"status", resp.StatusCode,
		"request_id", resp.RequestID,
		"remote", resp.RemoteAddr,
		"proto", resp.Proto,
	)

	if tr.fl.include {
		printHeaders(os.Stderr, resp)
	}
	n, err := tr.emit(ctx, t, resp)
	fmt.Fprintln(os.Stderr, tr.sess.styles.Status(tr.method, resp.URL.String(), resp.StatusCode, n, time.Since(start)))
	if err != nil {
		return err
	}
	if tr.fl.fail {
		return resp.ErrorForStatus()
	}
	return nil
}

// emit writes the response body to the output and returns its size.
func (tr *transfer) emit(ctx context.Context, t *gvl.Thread, resp *wreq.Response) (int64, error) {
	if tr.method == http.MethodHead {
		return 0, nil
	}
	ref, err := storage.Parse(tr.fl.output)
	if err != nil {
		return 0, err
	}
	w, err := tr.sess.opener.Create(ctx, ref)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", ref, err)
	}

	var n int64
	if tr.jq != nil || tr.fl.asJSON {
		n, err = tr.emitJSON(ctx, t, resp, w)
	} else {
		n, err = emitStream(t, resp, w)
	}
	if err != nil {
		abortSink(w, ref, err)
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, fmt.Errorf("write %s: %w", ref, err)
	}
	return n, nil
}

func emitStream(t *gvl.Thread, resp *wreq.Response, w io.Writer) (int64, error) {
	rx, err := resp.Chunks()
	if err != nil {
		return 0, err
	}
	defer rx.Close()

	var n int64
	for chunk, err := range rx.Each(t) {
		if err != nil {
			return n, err
		}
		err := gvl.NoGVL(t, func() error {
			_, err := w.Write(chunk)
			return err
		})
		if err != nil {
			return n, err
		}
		n += int64(len(chunk))
	}
	return n, nil
}

func (tr *transfer) emitJSON(ctx context.Context, t *gvl.Thread, resp *wreq.Response, w io.Writer) (int64, error) {
	data, err := resp.Bytes(t)
	if err != nil {
		return 0, err
	}
	n := int64(len(data))
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return n, fmt.Errorf("decode response: %w", err)
	}

	if tr.jq == nil {
		return n, cli.Output(v, cli.OutputOptions{Format: cli.FormatJSON, Writer: w})
	}
	iter := tr.jq.RunWithContext(ctx, v)
	for {
		r, ok := iter.Next()
		if !ok {
			return n, nil
		}
		if err, ok := r.(error); ok {
			return n, fmt.Errorf("jq: %w", err)
		}
		if err := writeJQResult(w, r, tr.fl.asJSON); err != nil {
			return n, err
		}
	}
}

// writeJQResult prints strings raw, like jq -r, unless asJSON is set.
// Other values are JSON encoded on one line, or indented with asJSON.
func writeJQResult(w io.Writer, r any, asJSON bool) error {
	if s, ok := r.(string); ok && !asJSON {
		_, err := fmt.Fprintln(w, s)
		return err
	}
	if asJSON {
		return cli.Output(r, cli.OutputOptions{Format: cli.FormatJSON, Writer: w})
	}
	return json.NewEncoder(w).Encode(r)
}

// abortSink discards a partially written output.
func abortSink(w io.WriteCloser, ref storage.Ref, cause error) {
	if a, ok := w.(interface{ Abort(string) error }); ok {
		a.Abort(cause.Error())
		return
	}
	w.Close()
	if ref.Kind == storage.KindFile {
		os.Remove(ref.Path)
	}
}

func printHeaders(w io.Writer, resp *wreq.Response) {
	fmt.Fprintf(w, "%s %s\n", resp.Proto, resp.Status)
	for _, k := range slices.Sorted(maps.Keys(resp.Header)) {
		for _, v := range resp.Header[k] {
			fmt.Fprintf(w, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintln(w)
}
