package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"market-rollup/internal/ingest"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func TestClient_Connect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		// Keep connection open
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.closed.Load() {
		t.Error("client should not be closed")
	}
}

func TestClient_SubscribeAndStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer c.Close()

		// Read subscribe request
		_, msg, err := c.ReadMessage()
		if err != nil {
			return
		}

		var req subscribeRequest
		if err := json.Unmarshal(msg, &req); err != nil {
			t.Errorf("unmarshal request: %v", err)
			return
		}

		if req.Op != "subscribe" {
			t.Errorf("expected subscribe, got %s", req.Op)
		}
		if len(req.Markets) != 1 || req.Markets[0] != "mk-42" {
			t.Errorf("expected markets [mk-42], got %v", req.Markets)
		}

		events := []feedMessage{
			{Type: "tick", Tick: &ingest.TickInput{
				MarketKey: "mk-42",
				Timestamp: 1704103205000,
				Price:     100,
				Size:      1,
				Side:      "buy",
			}},
			{Type: "tick", Tick: &ingest.TickInput{
				Symbol:    "NICKEL",
				Timestamp: 1704103220000,
				Price:     105,
				Size:      1,
				Side:      "sell",
			}},
			{Type: "point", Point: &ingest.PointInput{
				MarketKey: "mk-42",
				SeriesKey: "funding_rate",
				Timestamp: 1704103200000,
				Value:     0.01,
				Version:   2,
			}},
		}
		for _, ev := range events {
			if err := c.WriteJSON(ev); err != nil {
				t.Errorf("write event: %v", err)
				return
			}
		}

		// Malformed payloads must not kill the stream
		if err := c.WriteMessage(websocket.TextMessage, []byte("not json at all")); err != nil {
			return
		}
		if err := c.WriteJSON(feedMessage{Type: "heartbeat"}); err != nil {
			return
		}

		// Keep connection open
		for {
			_, _, err := c.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, []string{"mk-42"}, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	var ticks []*ingest.TickInput
	var points []*ingest.PointInput
	deadline := time.After(2 * time.Second)
	for len(ticks) < 2 || len(points) < 1 {
		select {
		case tick := <-client.Ticks():
			ticks = append(ticks, tick)
		case point := <-client.Points():
			points = append(points, point)
		case <-deadline:
			t.Fatalf("timeout waiting for events: %d ticks, %d points", len(ticks), len(points))
		}
	}

	if ticks[0].MarketKey != "mk-42" || ticks[0].Price != 100 {
		t.Errorf("unexpected first tick: %+v", ticks[0])
	}
	if ticks[1].Symbol != "NICKEL" || ticks[1].Side != "sell" {
		t.Errorf("unexpected second tick: %+v", ticks[1])
	}
	if points[0].SeriesKey != "funding_rate" || points[0].Version != 2 {
		t.Errorf("unexpected point: %+v", points[0])
	}
}

func TestClient_Close(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Fatalf("upgrade: %v", err)
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if !client.closed.Load() {
		t.Error("client should be closed")
	}

	// Channels close so range loops in consumers terminate
	if _, ok := <-client.Ticks(); ok {
		t.Error("ticks channel should be closed")
	}
	if _, ok := <-client.Points(); ok {
		t.Error("points channel should be closed")
	}

	// Double close should be safe
	if err := client.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

func TestClient_CustomConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")

	config := &Config{
		ReconnectDelay:    100 * time.Millisecond,
		MaxReconnectDelay: 1 * time.Second,
		PingInterval:      5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}

	ctx := context.Background()
	client, err := NewClient(ctx, wsURL, nil, config, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer client.Close()

	if client.config.PingInterval != 5*time.Second {
		t.Errorf("expected PingInterval 5s, got %v", client.config.PingInterval)
	}
}
