package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"comfyclient/internal/jobclient"
	"comfyclient/pkg/types"
)

// apiClient talks to the HTTP API of a running comfyclient.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 60 * time.Second}}
}

// do sends body (if any) as JSON and returns the status and raw response.
func (c *apiClient) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

// expectOK turns a non-2xx answer into an error carrying the server message.
func expectOK(status int, raw []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	var er types.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error != "" {
		return fmt.Errorf("server returned %d: %s", status, er.Error)
	}
	return fmt.Errorf("server returned %d: %s", status, strings.TrimSpace(string(raw)))
}

func printJSON(w io.Writer, raw []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		fmt.Fprintln(w, string(raw))
		return
	}
	fmt.Fprintln(w, buf.String())
}

// readParameters accepts inline JSON or @path to a JSON file.
func readParameters(s string) (string, error) {
	if path, ok := strings.CutPrefix(s, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read parameters: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return s, nil
}

func newRunJobCmd(opts *rootOptions) *cobra.Command {
	var (
		workflow   string
		parameters string
		wait       bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:     "run-job",
		Short:   "Submit a job to the router through a running client",
		Example: "  comfyclient run-job --workflow flux_dev --parameters '{\"positive_prompt\":\"a cat\"}' --wait\n  comfyclient run-job --workflow flux_dev --parameters @params.json",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := readParameters(parameters)
			if err != nil {
				return err
			}
			job := types.JobParameters{Workflow: workflow, Parameters: params}
			if err := job.Validate(); err != nil {
				return err
			}
			api := newAPIClient(opts.server)
			status, raw, err := api.do(cmd.Context(), http.MethodPost, "/jobs", job)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			var run types.RunResponse
			switch status {
			case http.StatusAccepted, http.StatusPaymentRequired, http.StatusBadGateway:
				if err := json.Unmarshal(raw, &run); err != nil {
					if status == http.StatusAccepted {
						fmt.Fprintln(out, "job forwarded; the router will answer later")
						return nil
					}
					return expectOK(status, raw)
				}
			default:
				return expectOK(status, raw)
			}
			switch {
			case run.PaymentRequired:
				return errors.New("payment required")
			case run.Error != nil:
				return fmt.Errorf("router error: %s", *run.Error)
			}
			fmt.Fprintf(out, "job %d queued\n", run.JobQueued.JobID)
			if !wait {
				return nil
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return waitForJob(ctx, opts.server, run.JobQueued.JobID, out, cmd.ErrOrStderr())
		},
	}
	f := cmd.Flags()
	f.StringVar(&workflow, "workflow", "", "Workflow template name")
	f.StringVar(&parameters, "parameters", "", "Workflow parameters as JSON, or @file")
	f.BoolVar(&wait, "wait", false, "Follow job events until the final image arrives")
	f.DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("workflow")
	return cmd
}

// eventsURL maps the server base URL to the websocket event stream of jobID.
func eventsURL(server string, jobID uint64) (string, error) {
	u, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/events"
	u.RawQuery = url.Values{"job_id": {strconv.FormatUint(jobID, 10)}}.Encode()
	return u.String(), nil
}

// waitForJob follows the event stream of jobID, printing each saved image,
// until the final image arrives or the job fails.
func waitForJob(ctx context.Context, server string, jobID uint64, out, progress io.Writer) error {
	wsURL, err := eventsURL(server, jobID)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to event stream: %w", err)
	}
	defer conn.Close()
	// Unblock ReadJSON when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(fmt.Sprintf("job %d", jobID)),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
	)
	defer bar.Finish()

	for {
		var ev types.EventMessage
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("event stream closed before job %d finished: %w", jobID, err)
		}
		switch ev.Name {
		case jobclient.EventImageSaved:
			_ = bar.Add(1)
			fmt.Fprintf(out, "image %v\n", ev.Fields["location"])
		case jobclient.EventJobFinal:
			fmt.Fprintf(out, "job %d finished: %v\n", jobID, ev.Fields["location"])
			return nil
		case jobclient.EventJobError:
			return fmt.Errorf("job %d failed: %v", jobID, ev.Fields["error"])
		case jobclient.EventSendError:
			return fmt.Errorf("job %d lost: %v", jobID, ev.Fields["error"])
		}
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running client",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/status")
		},
	}
}

func newAdminCmd(opts *rootOptions) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Configure a running client (local only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("admin requires a subcommand: set-router|set-sequencer|rollup-state")
		},
	}
	setRouter := &cobra.Command{
		Use:     "set-router <process-id>",
		Short:   "Set the router process",
		Example: "  comfyclient admin set-router router:comfyui_provider:nick1udwig.os",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/admin/router", map[string]string{"process_id": args[0]})
		},
	}
	setSequencer := &cobra.Command{
		Use:     "set-sequencer <address>",
		Short:   "Set the rollup sequencer and read the chain state",
		Example: "  comfyclient admin set-sequencer seq.os@sequencer:comfyui_provider:nick1udwig.os",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return postAndPrint(cmd, opts, "/admin/sequencer", map[string]string{"address": args[0]})
		},
	}
	rollup := &cobra.Command{
		Use:   "rollup-state",
		Short: "Re-read the chain state from the sequencer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return getAndPrint(cmd, opts, "/admin/rollup")
		},
	}
	admin.AddCommand(setRouter, setSequencer, rollup)
	return admin
}

func getAndPrint(cmd *cobra.Command, opts *rootOptions, path string) error {
	status, raw, err := newAPIClient(opts.server).do(cmd.Context(), http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	if err := expectOK(status, raw); err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), raw)
	return nil
}

func postAndPrint(cmd *cobra.Command, opts *rootOptions, path string, body any) error {
	status, raw, err := newAPIClient(opts.server).do(cmd.Context(), http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if err := expectOK(status, raw); err != nil {
		return err
	}
	printJSON(cmd.OutOrStdout(), raw)
	return nil
}
