package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/cordum/devserver/core/infra/bus"
	"github.com/gorilla/websocket"
)

const apiKeyProtocol = "devserver-api-key"

func runEventsCmd(args []string) {
	fs := newFlagSet("events")
	natsURL := fs.String("nats", envOr("NATS_URL", ""), "read events from nats instead of the bridge stream")
	subject := fs.String("subject", "devserver.events", "nats subject")
	fs.ParseArgs(args)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *natsURL != "" {
		check(subscribeEvents(ctx, *natsURL, *subject, os.Stdout))
		return
	}
	check(streamEvents(ctx, *fs.bridge, *fs.apiKey, os.Stdout))
}

// subscribeEvents writes one JSON event per line from a nats subject until
// ctx is done.
func subscribeEvents(ctx context.Context, url, subject string, out io.Writer) error {
	nb, err := bus.NewNatsBus(url)
	if err != nil {
		return fmt.Errorf("nats connect: %w", err)
	}
	defer nb.Close()

	var (
		mu      sync.Mutex
		lastErr error
	)
	unsubscribe, err := nb.Subscribe(subject, func(evt *bus.Event) {
		data, err := bus.Encode(evt)
		mu.Lock()
		defer mu.Unlock()
		if err == nil {
			_, err = fmt.Fprintln(out, string(data))
		}
		if err != nil {
			lastErr = err
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	<-ctx.Done()
	if err := unsubscribe(); err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	return lastErr
}

// streamURL maps the bridge base url to its websocket stream endpoint.
func streamURL(bridge string) string {
	base := strings.TrimRight(bridge, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/stream"
}

// streamEvents writes one JSON event per line until ctx is done or the
// bridge closes the stream.
func streamEvents(ctx context.Context, bridge, apiKey string, out io.Writer) error {
	dialer := websocket.Dialer{}
	if apiKey != "" {
		dialer.Subprotocols = []string{apiKeyProtocol, apiKey}
	}
	conn, resp, err := dialer.DialContext(ctx, streamURL(bridge), http.Header{})
	if err != nil {
		if resp != nil {
			return fmt.Errorf("stream dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("stream dial: %w", err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		if _, err := fmt.Fprintln(out, string(data)); err != nil {
			return err
		}
	}
}
