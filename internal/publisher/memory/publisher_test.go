package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "job_status", map[string]string{"status": "running"})
	require.NoError(t, err)
	require.Equal(t, "memory-1", id1)
	id2, err := pub.Publish(context.Background(), "proxy_blocked", "proxy-7")
	require.NoError(t, err)
	require.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "job_status", msgs[0].Topic)
	require.Equal(t, "proxy_blocked", msgs[1].Topic)

	msgs[0].Topic = "modified"
	require.Equal(t, "job_status", pub.Messages()[0].Topic)
}
