package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func newFakeClient(t *testing.T) (*pstest.Server, *pubsub.Client) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(context.Background(), "bizintel-test", option.WithGRPCConn(conn))
	require.NoError(t, err)
	return srv, client
}

func TestPublishSendsJSON(t *testing.T) {
	ctx := context.Background()
	srv, client := newFakeClient(t)
	_, err := client.CreateTopic(ctx, "crawl-runs")
	require.NoError(t, err)

	pub := New(client, zap.NewNop())
	t.Cleanup(func() { _ = pub.Close() })

	id, err := pub.Publish(ctx, "crawl-runs", map[string]any{"target_name": "cybo", "pages_crawled": 4})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	var got map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, "cybo", got["target_name"])
	require.InDelta(t, 4, got["pages_crawled"], 0)
}

func TestPublishErrors(t *testing.T) {
	ctx := context.Background()
	_, client := newFakeClient(t)
	pub := New(client, nil)
	t.Cleanup(func() { _ = pub.Close() })

	_, err := pub.Publish(ctx, "", "x")
	require.Error(t, err)

	_, err = pub.Publish(ctx, "crawl-runs", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(ctx, "missing-topic", "x")
	require.ErrorContains(t, err, "publish to missing-topic")

	_, err = New(nil, nil).Publish(ctx, "crawl-runs", "x")
	require.Error(t, err)
}

func TestAttributeCarrier(t *testing.T) {
	c := attributeCarrier{}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
