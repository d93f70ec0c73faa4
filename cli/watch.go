package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/xiaot623/auditflow/internal/auth"
	"github.com/xiaot623/auditflow/internal/eventbus"
	"github.com/xiaot623/auditflow/internal/protocol"
)

const reviewerTag = "reviewer"

// ErrUnauthorized is returned when ingress rejects the handshake.
var ErrUnauthorized = errors.New("ingress rejected the signature")

type WatchOptions struct {
	URL    string
	Secret string
	JobID  string

	now func() time.Time
}

func DefaultWatchOptions() *WatchOptions {
	return &WatchOptions{
		URL:    "ws://localhost:8090/ws",
		Secret: os.Getenv("WS_SECRET"),
		now:    time.Now,
	}
}

func NewCmdWatch() *cobra.Command {
	o := DefaultWatchOptions()
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream the progress of one audit until its reviewer finishes.",
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

func (o *WatchOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.URL, "url", "u", o.URL, "Ingress websocket URL")
	fs.StringVarP(&o.Secret, "secret", "s", o.Secret, "Shared handshake secret (defaults to $WS_SECRET)")
	fs.StringVarP(&o.JobID, "job", "j", o.JobID, "Job id to follow")
}

func (o *WatchOptions) Validate() error {
	if o.JobID == "" {
		return errors.New("--job is required")
	}
	if o.Secret == "" {
		return errors.New("--secret is required")
	}
	if _, err := url.Parse(o.URL); err != nil {
		return fmt.Errorf("invalid --url: %w", err)
	}
	return nil
}

// signedURL appends the handshake signature for the URL's path.
func (o *WatchOptions) signedURL() (string, error) {
	u, err := url.Parse(o.URL)
	if err != nil {
		return "", err
	}
	ts := o.now().Unix()
	q := u.Query()
	q.Set(protocol.ParamTimestamp, strconv.FormatInt(ts, 10))
	q.Set(protocol.ParamSignature, auth.Sign(o.Secret, ts, u.Path))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run follows the job and returns once the reviewer reports done or error.
func (o *WatchOptions) Run(ctx context.Context, out io.Writer) error {
	target, err := o.signedURL()
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.SubscribeLine(o.JobID))); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	fmt.Fprintf(out, "watching job %s\n", o.JobID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == protocol.CloseUnauthorized {
				return ErrUnauthorized
			}
			return fmt.Errorf("read: %w", err)
		}

		if protocol.IsHeartbeat(data) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(protocol.Pong)); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}

		msg, err := eventbus.Decode(data)
		if err != nil {
			fmt.Fprintf(out, "unrecognized frame: %s\n", data)
			continue
		}
		e := msg.Event
		fmt.Fprintf(out, "%s  %-16s %s\n", o.now().Format(time.TimeOnly), e.Name, e.Status)

		if e.Name == reviewerTag && (e.Status == eventbus.StatusDone || e.Status == eventbus.StatusError) {
			if e.Status == eventbus.StatusError {
				return fmt.Errorf("job %s failed during synthesis", e.JobID)
			}
			return nil
		}
	}
}
