package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const apiKeyHeader = "X-API-Key"

type SubmitOptions struct {
	APIURL   string
	APIKey   string
	Category string
	File     string
	JobID    string
	Watch    bool

	watch  *WatchOptions
	client *http.Client
	stdin  io.Reader
}

func DefaultSubmitOptions() *SubmitOptions {
	return &SubmitOptions{
		APIURL:   "http://localhost:8080",
		APIKey:   os.Getenv("API_KEY"),
		Category: "security",
		watch:    DefaultWatchOptions(),
		client:   &http.Client{Timeout: 30 * time.Second},
		stdin:    os.Stdin,
	}
}

func NewCmdSubmit() *cobra.Command {
	o := DefaultSubmitOptions()
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit source code for an audit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Validate(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return o.Run(ctx, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *SubmitOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.APIURL, "api-url", o.APIURL, "Orchestrator base URL")
	fs.StringVar(&o.APIKey, "api-key", o.APIKey, "Orchestrator API key (defaults to $API_KEY)")
	fs.StringVarP(&o.Category, "category", "c", o.Category, "Audit category: security or gas")
	fs.StringVarP(&o.File, "file", "f", o.File, "Source file to audit, - for stdin")
	fs.StringVarP(&o.JobID, "job", "j", o.JobID, "Job id (generated when empty)")
	fs.BoolVarP(&o.Watch, "watch", "w", o.Watch, "Follow progress after submitting")
	fs.StringVarP(&o.watch.URL, "url", "u", o.watch.URL, "Ingress websocket URL")
	fs.StringVarP(&o.watch.Secret, "secret", "s", o.watch.Secret, "Shared handshake secret (defaults to $WS_SECRET)")
}

func (o *SubmitOptions) Validate() error {
	if o.File == "" {
		return errors.New("--file is required")
	}
	if o.Watch && o.watch.Secret == "" {
		return errors.New("--secret is required with --watch")
	}
	return nil
}

type submitRequest struct {
	JobID    string `json:"job_id,omitempty"`
	Category string `json:"category"`
	Input    string `json:"input"`
}

type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

func (o *SubmitOptions) readInput() (string, error) {
	if o.File == "-" {
		b, err := io.ReadAll(o.stdin)
		return string(b), err
	}
	b, err := os.ReadFile(o.File)
	return string(b), err
}

// Run submits the audit and, with --watch, follows it to completion.
func (o *SubmitOptions) Run(ctx context.Context, out io.Writer) error {
	input, err := o.readInput()
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	body, err := json.Marshal(submitRequest{JobID: o.JobID, Category: o.Category, Input: input})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(o.APIURL, "/")+"/v1/audits", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if o.APIKey != "" {
		req.Header.Set(apiKeyHeader, o.APIKey)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	defer resp.Body.Close()

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit rejected (status %d): %s", resp.StatusCode, result.Error)
	}
	fmt.Fprintf(out, "submitted job %s (%s)\n", result.JobID, result.Status)

	if !o.Watch {
		return nil
	}
	o.watch.JobID = result.JobID
	return o.watch.Run(ctx, out)
}
