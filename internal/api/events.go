package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/biu/internal/events"
	"github.com/smazurov/biu/internal/metrics"
)

// registerSSERoutes registers the viewer event stream. Every SSE event
// carries the same {"type","data"} envelope as the other transports.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Initialize snapshot followed by every live task event",
		Tags:        []string{"events"},
	}, map[string]any{
		"message": events.Message{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		snapshot, sub := s.sup.Connect()
		defer sub.Close()

		metrics.ViewerConnected("sse")
		defer metrics.ViewerDisconnected("sse")

		seq := 1
		if err := send(sse.Message{ID: seq, Data: events.Message{Kind: events.KindInitialize, Data: snapshot}}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-sub.C:
				seq++
				if err := send(sse.Message{ID: seq, Data: msg}); err != nil {
					return
				}
			}
		}
	})
}
