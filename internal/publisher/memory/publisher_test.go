package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type summary struct {
	TargetName   string `json:"target_name"`
	PagesCrawled int    `json:"pages_crawled"`
}

func TestPublisherEncodesAndFiltersByTopic(t *testing.T) {
	t.Parallel()

	pub := New()
	id, err := pub.Publish(context.Background(), "crawl-runs", summary{TargetName: "cybo", PagesCrawled: 4})
	require.NoError(t, err)
	require.Equal(t, "crawl-runs-1", id)
	_, err = pub.Publish(context.Background(), "audit", summary{TargetName: "brela"})
	require.NoError(t, err)

	require.Len(t, pub.Messages(""), 2)
	runs := pub.Messages("crawl-runs")
	require.Len(t, runs, 1)
	require.JSONEq(t, `{"target_name":"cybo","pages_crawled":4}`, string(runs[0].Data))

	var got summary
	require.NoError(t, runs[0].Decode(&got))
	require.Equal(t, "cybo", got.TargetName)

	runs[0].Data[0] = 'x'
	require.NoError(t, pub.Messages("crawl-runs")[0].Decode(&got), "Messages returns copies")
}

func TestPublisherFailNext(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailNext(context.DeadlineExceeded)
	_, err := pub.Publish(context.Background(), "crawl-runs", "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Empty(t, pub.Messages(""))

	_, err = pub.Publish(context.Background(), "crawl-runs", "x")
	require.NoError(t, err)
}

func TestPublisherRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "crawl-runs", make(chan int))
	require.ErrorContains(t, err, "encode message for crawl-runs")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "crawl-runs", "x")
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, pub.Messages(""))
}
