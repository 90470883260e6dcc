package api

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestClient(h *Hub, id string) *Client {
	return &Client{hub: h, send: make(chan []byte, 1), id: id, subscriptions: make(map[string]bool)}
}

func TestHub_RegisterAndBroadcast(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := newTestClient(h, "c1")
	if !h.registerClient(c) {
		t.Fatal("running hub refused a client")
	}
	c.Subscribe(ChannelBlocks)

	// registration is applied by Run asynchronously
	deadline := time.Now().Add(time.Second)
	for h.Clients() != 1 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	h.BroadcastToChannel(ChannelBlocks, map[string]int{"height": 1})
	select {
	case msg := <-c.send:
		if string(msg) != `{"height":1}` {
			t.Errorf("got %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no broadcast delivered")
	}

	cancel()
	<-stopped
	if _, ok := <-c.send; ok {
		t.Error("send channel left open after shutdown")
	}
}

func TestHub_StoppedHubDoesNotBlock(t *testing.T) {
	h := NewHub(zap.NewNop().Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.Run(ctx)

	done := make(chan bool, 1)
	go func() {
		c := newTestClient(h, "late")
		h.unregisterClient(c)
		done <- h.registerClient(c)
	}()
	select {
	case ok := <-done:
		if ok {
			t.Error("stopped hub accepted a client")
		}
	case <-time.After(time.Second):
		t.Fatal("client lifecycle blocked on a stopped hub")
	}
}
