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

	"github.com/JakeFAU/pubsearch/internal/notify"
	"github.com/JakeFAU/pubsearch/internal/telemetry"
)

func newFakeServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return srv, []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublishCrawlCompleted(t *testing.T) {
	ctx := context.Background()
	srv, opts := newFakeServer(t)

	admin, err := pubsub.NewClient(ctx, "test-project", opts...)
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "crawls")
	require.NoError(t, err)

	pub, err := Dial(ctx, "test-project", "crawls", opts...)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	id, err := pub.Publish(ctx, "crawl.completed", notify.CrawlCompleted{RunID: "run-1", TotalItems: 12})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "crawl.completed", msgs[0].Attributes["event"])

	var got notify.CrawlCompleted
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, 12, got.TotalItems)
}

func TestPublishPropagatesTraceContext(t *testing.T) {
	ctx := context.Background()
	tp, err := telemetry.InitTracerProvider(ctx, "pubsearch-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	srv, opts := newFakeServer(t)
	admin, err := pubsub.NewClient(ctx, "test-project", opts...)
	require.NoError(t, err)
	_, err = admin.CreateTopic(ctx, "crawls")
	require.NoError(t, err)

	pub, err := Dial(ctx, "test-project", "crawls", opts...)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	spanCtx, span := telemetry.Tracer().Start(ctx, "crawl.run")
	_, err = pub.Publish(spanCtx, "crawl.completed", notify.CrawlCompleted{RunID: "run-2"})
	span.End()
	require.NoError(t, err)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Attributes["traceparent"], span.SpanContext().TraceID().String())
}

func TestPublishWithoutTopic(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x", nil)
	require.Error(t, err)

	_, err = New(nil).Publish(context.Background(), "x", nil)
	require.Error(t, err)
}

func TestDialRequiresIDs(t *testing.T) {
	t.Parallel()

	_, err := Dial(context.Background(), "", "crawls")
	require.Error(t, err)
}

func TestPublishRejectsUnmarshalable(t *testing.T) {
	ctx := context.Background()
	_, opts := newFakeServer(t)

	pub, err := Dial(ctx, "test-project", "missing", opts...)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	_, err = pub.Publish(ctx, "x", func() {})
	require.Error(t, err)
}
