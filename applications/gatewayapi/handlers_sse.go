package gatewayapi

import (
	"net/http"

	"github.com/gin-contrib/sse"

	"github.com/enclagent/gateway/domain/eventbus"
	gatewayerrors "github.com/enclagent/gateway/infrastructure/errors"
)

// streamChannel subscribes to channelPrefix+session_id, writing each event
// with gin-contrib/sse's wire encoder and flushing after every write so a
// client receives each message as it is published. It is a pure consumer of
// the event bus: it never mutates session state.
func (s *Server) streamChannel(w http.ResponseWriter, r *http.Request, channelPrefix string) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeError(w, gatewayerrors.InvalidSessionID(sessionID))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, gatewayerrors.Internal("response writer does not support streaming", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := s.bus.Subscribe(channelPrefix + sessionID)
	defer sub.Close()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			if dropped, lagging := sub.DrainLag(); lagging {
				_ = sse.Encode(w, sse.Event{
					Event: eventbus.EventLagged,
					Data:  map[string]interface{}{"session_id": sessionID, "dropped_count": dropped},
				})
				flusher.Flush()
			}
			_ = sse.Encode(w, sse.Event{Event: ev.Name, Data: ev.Data})
			flusher.Flush()
		}
	}
}

func (s *Server) handleChatEvents(w http.ResponseWriter, r *http.Request) {
	s.streamChannel(w, r, "chat_events:")
}

func (s *Server) handleLogEvents(w http.ResponseWriter, r *http.Request) {
	s.streamChannel(w, r, "log_events:")
}

func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	s.streamChannel(w, r, "job_events:")
}
