package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedPublishSubscribe(t *testing.T) {
	b, err := New(Config{Port: -1}, nil)
	require.NoError(t, err)
	defer b.Close()

	assert.NotEmpty(t, b.ClientURL())

	got := make(chan map[string]int, 1)

	_, err = b.Subscribe(SubjectCounts, func(msg *nats.Msg) {
		var v map[string]int
		if err := json.Unmarshal(msg.Data, &v); err == nil {
			got <- v
		}
	})
	require.NoError(t, err)
	require.NoError(t, b.Conn().Flush())

	require.NoError(t, b.Publish(SubjectCounts, map[string]int{"delta": 3}))

	select {
	case v := <-got:
		assert.Equal(t, 3, v["delta"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConnectToExisting(t *testing.T) {
	embedded, err := New(Config{Port: -1}, nil)
	require.NoError(t, err)
	defer embedded.Close()

	client, err := New(Config{URL: embedded.ClientURL()}, nil)
	require.NoError(t, err)
	defer client.Close()

	assert.Nil(t, client.server)
	assert.True(t, client.Conn().IsConnected())
}

func TestConnectFailure(t *testing.T) {
	_, err := New(Config{URL: "nats://127.0.0.1:1"}, nil)
	assert.Error(t, err)
}
