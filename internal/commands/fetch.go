package commands

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gaborage/webqueue/app"
	"github.com/gaborage/webqueue/http"
	"github.com/gaborage/webqueue/logger"
	"github.com/gaborage/webqueue/scheduler"
)

// Output formats of the fetch command
const (
	OutputStatus = "status"
	OutputBody   = "body"
)

// FetchOptions holds options for the fetch command
type FetchOptions struct {
	ConfigFile    string
	Method        string
	Priority      string
	Retries       int
	Timeout       time.Duration
	MaxConcurrent int
	Headers       []string
	Data          string
	Output        string

	// AppOptions are applied after the command's own, so they may replace the logger.
	AppOptions []app.Option
}

// NewFetchCommand creates the fetch command
func NewFetchCommand() *cobra.Command {
	return newFetchCommand(&FetchOptions{})
}

func newFetchCommand(opts *FetchOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch URL...",
		Short: "Fetch URLs through the request scheduler",
		Long: `Submits every URL to the scheduler at once. At most scheduler.maxconcurrent
requests are in flight; the rest wait in priority order and failures are
retried according to the configured backoff.`,
		Example: `  # Fetch three pages, two at a time
  webqueue fetch --concurrency 2 https://example.com/a https://example.com/b https://example.com/c

  # POST a JSON body with retries and a per-attempt timeout
  webqueue fetch -X POST -d '{"name":"x"}' --retries 3 --timeout 5s https://api.example.com/v1/items`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runFetch(ctx, cmd, opts, args)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigFile, "config", "c", "", "Config file (default: ./config.yaml when present)")
	cmd.Flags().StringVarP(&opts.Method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "", "Request priority (dontcare|low|normal|high|critical)")
	cmd.Flags().IntVarP(&opts.Retries, "retries", "r", -1, "Counted retry budget (default: scheduler.retries)")
	cmd.Flags().DurationVarP(&opts.Timeout, "timeout", "t", 0, "Per-attempt timeout (default: scheduler.timeout)")
	cmd.Flags().IntVar(&opts.MaxConcurrent, "concurrency", 0, "Requests in flight (default: scheduler.maxconcurrent)")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "Request header as 'Key: Value' (repeatable)")
	cmd.Flags().StringVarP(&opts.Data, "data", "d", "", "Request body")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", OutputStatus, "Output format (status|body)")

	return cmd
}

type fetchResult struct {
	url  string
	resp *http.Response
	err  error
}

func runFetch(ctx context.Context, cmd *cobra.Command, opts *FetchOptions, urls []string) error {
	if opts.Output != OutputStatus && opts.Output != OutputBody {
		return fmt.Errorf("invalid output format %q (must be one of: %s, %s)", opts.Output, OutputStatus, OutputBody)
	}

	headers, err := parseHeaders(opts.Headers)
	if err != nil {
		return err
	}

	var priority *scheduler.Priority
	if opts.Priority != "" {
		p, err := scheduler.ParsePriority(opts.Priority)
		if err != nil {
			return err
		}
		priority = &p
	}

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return err
	}
	if opts.MaxConcurrent > 0 {
		cfg.Scheduler.MaxConcurrent = opts.MaxConcurrent
	}

	// Logs go to stderr so stdout carries only results
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Pretty)
	appOpts := append([]app.Option{app.WithLogger(log)}, opts.AppOptions...)

	a, err := app.New(cfg, appOpts...)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = a.Close(closeCtx)
	}()

	results := make([]fetchResult, len(urls))
	var g errgroup.Group
	for i, url := range urls {
		req := &http.Request{
			URL:      url,
			Headers:  headers,
			Priority: priority,
			Timeout:  opts.Timeout,
		}
		if opts.Retries >= 0 {
			retries := opts.Retries
			req.Retries = &retries
		}
		if opts.Data != "" {
			req.Body = opts.Data
			if strings.HasPrefix(strings.TrimSpace(opts.Data), "{") || strings.HasPrefix(strings.TrimSpace(opts.Data), "[") {
				req.ContentType = scheduler.TypeJSON
			}
		}
		g.Go(func() error {
			resp, err := a.Client().Do(ctx, strings.ToUpper(opts.Method), req)
			results[i] = fetchResult{url: url, resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return report(cmd.OutOrStdout(), cmd.ErrOrStderr(), opts.Output, results)
}

func report(out, errOut io.Writer, format string, results []fetchResult) error {
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Fprintf(errOut, "FAIL %s: %v\n", r.url, r.err)
			continue
		}
		if format == OutputBody {
			_, _ = out.Write(r.resp.Body)
			if len(r.resp.Body) > 0 && r.resp.Body[len(r.resp.Body)-1] != '\n' {
				fmt.Fprintln(out)
			}
			continue
		}
		fmt.Fprintf(out, "%d %s attempts=%d elapsed=%s\n",
			r.resp.StatusCode, r.url, r.resp.Stats.Attempts, r.resp.Stats.ElapsedTime.Round(time.Millisecond))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(results))
	}
	return nil
}

func parseHeaders(raw []string) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(raw))
	for _, h := range raw {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (want 'Key: Value')", h)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}
