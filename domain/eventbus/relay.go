package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// RelayFromWebsocket dials a provisioned runtime's event feed and republishes
// every JSON message it sends onto channel, so SSE subscribers see
// runtime-native events alongside gateway-originated ones. It reconnects until
// ctx is cancelled, with a backoff that starts at 1s and doubles up to 30s;
// dial failures are reported through
// onError rather than returned, since the relay runs detached in a goroutine.
func RelayFromWebsocket(ctx context.Context, bus *Bus, channel, feedURL string, onError func(error)) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		if err := relayOnce(ctx, bus, channel, feedURL); err != nil && onError != nil {
			onError(err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func relayOnce(ctx context.Context, bus *Bus, channel, feedURL string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, feedURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(message, &payload); err != nil {
			continue
		}
		name, _ := payload["event"].(string)
		if name == "" {
			name = "runtime_event"
		}
		bus.Publish(channel, Event{Name: name, Data: payload})
	}
}
