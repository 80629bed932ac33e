package response

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnlens/backend/pkg/docstore"
)

// KeepAlive is how often an idle stream sends a ping event.
const KeepAlive = 25 * time.Second

// StreamSnapshots writes every snapshot as a server-sent event named event,
// with data decode(docs), until the client goes away or snaps is closed.
// A failed snapshot is sent as an "error" event and the stream continues.
func StreamSnapshots(c *gin.Context, event string, snaps <-chan docstore.Snapshot, decode func([]docstore.Document) any) {
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ping := time.NewTicker(KeepAlive)
	defer ping.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ping.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		case snap, ok := <-snaps:
			if !ok {
				return false
			}
			if snap.Err != nil {
				c.SSEvent("error", Body{Success: false, Code: CodeLoadFailed, Error: "could not load"})
				return true
			}
			c.SSEvent(event, decode(snap.Docs))
			return true
		}
	})
}
