package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, "docmirror-runs")
	require.NoError(t, err)
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPublishSendsJSON(t *testing.T) {
	srv, topic := newTopic(t)
	p := New(topic)

	id, err := p.Publish(context.Background(), "sync.finished", map[string]any{"run_id": "r1", "ok": true})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "r1", got["run_id"])
	assert.Equal(t, true, got["ok"])
	assert.Equal(t, "sync.finished", msgs[0].Attributes["event"])
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	_, topic := newTopic(t)
	_, err := New(topic).Publish(context.Background(), "", make(chan int))
	require.Error(t, err)
}

func TestPublishWithoutTopic(t *testing.T) {
	_, err := New(nil).Publish(context.Background(), "", "x")
	require.Error(t, err)

	_, _, err = Connect(context.Background(), "", "")
	require.Error(t, err)
}
