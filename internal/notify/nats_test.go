package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"stark-claimer/internal/config"
	"stark-claimer/internal/domain"
	"stark-claimer/internal/logging"
)

func TestNATS_PublishesSummary(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer func() { _ = container.Terminate(ctx) }()

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "4222")
	require.NoError(t, err)
	url := fmt.Sprintf("nats://%s:%s", host, port.Port())

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	_, err = sub.ChanSubscribe(DefaultSubject, msgs)
	require.NoError(t, err)
	require.NoError(t, sub.Flush())

	pub, err := NewNATS(config.NATSConfig{URL: url}, logging.Discard())
	require.NoError(t, err)
	defer pub.Close()

	require.NoError(t, pub.Notify(ctx, Summary{Address: "0xabc", Status: domain.StatusDone, Total: 2, Position: 1}))

	select {
	case msg := <-msgs:
		var got Summary
		require.NoError(t, json.Unmarshal(msg.Data, &got))
		assert.Equal(t, "0xabc", got.Address)
		assert.Equal(t, domain.StatusDone, got.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("summary not received")
	}
}
