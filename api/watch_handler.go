package api

import (
	"fmt"
	"log/slog"
	"net"

	"github.com/gin-gonic/gin"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/id"
	"github.com/xraph/genqueue/stream"
)

// watchJob upgrades to a WebSocket and streams the job's lifecycle
// events. The first frame is a snapshot of the current state. The server
// closes the socket after the terminal event.
func (a *API) watchJob(c *gin.Context) {
	jobID, ok := a.jobIDParam(c)
	if !ok {
		return
	}
	codec, err := stream.GetCodec(c.DefaultQuery("format", stream.CodecNameJSON))
	if err != nil {
		a.abortWithError(c, fmt.Errorf("%w: %s", genqueue.ErrValidation, err.Error()))
		return
	}

	ctx := c.Request.Context()
	caller := viewer(c)
	if _, err := a.eng.GetJob(ctx, jobID, caller); err != nil {
		a.abortWithError(c, err)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(c.Request, c.Writer)
	if err != nil {
		a.logger.Warn("websocket upgrade failed",
			slog.String("job_id", jobID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	defer conn.Close()

	subID := id.NewSubscriberID().String()
	sub := a.eng.Broker().Subscribe(subID, stream.JobTopic(jobID.String()))
	defer a.eng.Broker().RemoveSubscriber(subID)

	a.logger.Debug("watch connected",
		slog.String("job_id", jobID.String()),
		slog.String("subscriber_id", subID),
		slog.String("codec", codec.Name()),
	)

	// Read the state only after subscribing so no transition is missed.
	view, err := a.eng.GetJob(ctx, jobID, caller)
	if err != nil {
		closeSocket(conn, ws.StatusInternalServerError, "job lookup failed")
		return
	}
	snapshot := stream.SnapshotEvent(view)
	if err := writeEvent(conn, codec, snapshot); err != nil {
		return
	}
	if snapshot.Type.Terminal() {
		closeSocket(conn, ws.StatusNormalClosure, string(snapshot.Type))
		return
	}

	// Drain client frames so control frames are answered and a client
	// close is noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				closeSocket(conn, ws.StatusGoingAway, "shutting down")
				return
			}
			if err := writeEvent(conn, codec, evt); err != nil {
				return
			}
			if evt.Type.Terminal() {
				closeSocket(conn, ws.StatusNormalClosure, string(evt.Type))
				return
			}
		case <-gone:
			return
		}
	}
}

func writeEvent(conn net.Conn, codec stream.Codec, evt *stream.Event) error {
	data, err := codec.Encode(evt)
	if err != nil {
		return err
	}
	op := ws.OpText
	if codec.Binary() {
		op = ws.OpBinary
	}
	return wsutil.WriteServerMessage(conn, op, data)
}

func closeSocket(conn net.Conn, code ws.StatusCode, reason string) {
	//nolint:errcheck // best-effort close frame before disconnect
	ws.WriteFrame(conn, ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason)))
}
