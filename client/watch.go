package client

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/genqueue/backoff"
	"github.com/xraph/genqueue/stream"
)

// Watch streams lifecycle events for a job. The first event describes the
// job's state at connect time. The channel is closed after the terminal
// event, when ctx is done, or when reconnection gives up.
//
// A dropped stream is re-dialed per WithReconnect; the server then sends
// a fresh snapshot, so a progress value may repeat.
func (c *Client) Watch(ctx context.Context, jobID string) (<-chan *stream.Event, error) {
	codec, err := stream.GetCodec(c.format)
	if err != nil {
		return nil, err
	}
	conn, err := c.dialWatch(ctx, jobID, codec)
	if err != nil {
		return nil, err
	}

	out := make(chan *stream.Event, 64)
	go c.watchLoop(ctx, jobID, codec, conn, out)
	return out, nil
}

func (c *Client) watchURL(jobID string, codec stream.Codec) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/jobs/" + jobID + "/watch"
	u.RawQuery = url.Values{"format": {codec.Name()}}.Encode()
	return u.String()
}

func (c *Client) dialWatch(ctx context.Context, jobID string, codec stream.Codec) (net.Conn, error) {
	d := ws.Dialer{}
	if c.token != "" {
		d.Header = ws.HandshakeHeaderHTTP(http.Header{"Authorization": {"Bearer " + c.token}})
	}
	conn, _, _, err := d.Dial(ctx, c.watchURL(jobID, codec))
	if err != nil {
		return nil, fmt.Errorf("genqueue/client: watch %s: %w", jobID, err)
	}
	return conn, nil
}

func (c *Client) watchLoop(ctx context.Context, jobID string, codec stream.Codec, conn net.Conn, out chan<- *stream.Event) {
	defer close(out)

	attempt := 0
	for {
		if conn != nil {
			delivered, terminal := c.pump(ctx, conn, codec, out)
			_ = conn.Close()
			if terminal {
				return
			}
			if delivered > 0 {
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}
		if c.reconnect == nil || attempt >= c.maxRetries {
			c.logger.Warn("watch stream closed before the job finished",
				slog.String("job_id", jobID),
				slog.Int("attempts", attempt),
			)
			return
		}

		attempt++
		c.logger.Info("watch reconnecting",
			slog.String("job_id", jobID),
			slog.Int("attempt", attempt),
		)
		if err := backoff.Wait(ctx, c.reconnect, attempt); err != nil {
			return
		}

		var err error
		conn, err = c.dialWatch(ctx, jobID, codec)
		if err != nil {
			c.logger.Warn("watch reconnect failed",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
			conn = nil
		}
	}
}

// pump forwards frames until the terminal event or a read error.
func (c *Client) pump(ctx context.Context, conn net.Conn, codec stream.Codec, out chan<- *stream.Event) (delivered int, terminal bool) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			return delivered, false
		}
		evt, err := codec.Decode(data)
		if err != nil {
			c.logger.Warn("watch: invalid frame", slog.String("error", err.Error()))
			continue
		}
		select {
		case out <- evt:
			delivered++
		case <-ctx.Done():
			return delivered, false
		}
		if evt.Type.Terminal() {
			return delivered, true
		}
	}
}
