package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soulmatch/realtime-service/internal/hub"
)

func newTestClient(buffer int) *client {
	hc := &hub.Client{UserID: "alice", ConnID: "conn-1", Send: make(chan []byte, buffer)}
	return newClient(nil, hc)
}

func TestWriteAckWaitsForFullBuffer(t *testing.T) {
	h := &Handler{log: zap.NewNop().Sugar()}
	c := newTestClient(1)
	c.hc.Send <- []byte(`{"type":"event"}`)

	// drain the buffered push shortly after writeAck starts blocking
	go func() {
		time.Sleep(20 * time.Millisecond)
		<-c.hc.Send
	}()

	delivered := make(chan struct{})
	go func() {
		h.writeAck(c, &Ack{ID: "req-1", Type: "ack", OK: true})
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("writeAck did not deliver after the buffer drained")
	}

	var ack Ack
	require.NoError(t, json.Unmarshal(<-c.hc.Send, &ack))
	assert.Equal(t, "req-1", ack.ID)
	assert.True(t, ack.OK)
}

func TestWriteAckUnblocksWhenConnectionDies(t *testing.T) {
	h := &Handler{log: zap.NewNop().Sugar()}
	c := newTestClient(1)
	c.hc.Send <- []byte(`{"type":"event"}`)

	returned := make(chan struct{})
	go func() {
		h.writeAck(c, &Ack{ID: "req-1", Type: "ack", OK: true})
		close(returned)
	}()

	time.Sleep(20 * time.Millisecond)
	c.markDone()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("writeAck still blocked after the connection closed")
	}
	// only the original push remains, nothing was forced into the buffer
	assert.Len(t, c.hc.Send, 1)
}
