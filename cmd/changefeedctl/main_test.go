package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arloliu/changefeed"
	"github.com/arloliu/changefeed/feed"
	"github.com/arloliu/changefeed/leasestore"
	cftest "github.com/arloliu/changefeed/testing"
)

func execute(t *testing.T, natsURL string, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	root := newRootCommand(slog.New(slog.NewTextHandler(io.Discard, nil)))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--nats-url", natsURL, "--memory", "--partitions", "p-0,p-1"))
	require.NoError(t, root.ExecuteContext(t.Context()))

	return out.String()
}

func TestSplitPartitions(t *testing.T) {
	ids, err := splitPartitions(" p-0, p-1,,p-0 ")
	require.NoError(t, err)
	require.Equal(t, []string{"p-0", "p-1"}, ids)

	_, err = splitPartitions(" , ")
	require.Error(t, err)
}

func TestLogLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, logLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, logLevel("warn"))
	require.Equal(t, slog.LevelInfo, logLevel(""))
}

func TestCommands(t *testing.T) {
	srv, nc := cftest.StartEmbeddedNATS(t)
	url := srv.ClientURL()

	require.Equal(t, "1\n", execute(t, url, "publish", "--partition", "p-0", "--id", "order-1", "--op", "create"))
	require.Equal(t, "2\n", execute(t, url, "publish", "--partition", "p-0", "--id", "order-1", "--data", `{"total":10}`))
	// Tokens are stream sequences shared by all partitions.
	require.Equal(t, "3\n", execute(t, url, "publish", "--partition", "p-1", "--id", "order-2"))

	js := cftest.NewJetStream(t, nc)
	store, err := leasestore.OpenKV(t.Context(), js, leasestore.KVConfig{MemoryStorage: true})
	require.NoError(t, err)
	src, err := feed.OpenJetStream(t.Context(), js, feed.JetStreamConfig{MemoryStorage: true}, feed.StaticIDs("p-0", "p-1"))
	require.NoError(t, err)

	var delivered atomic.Int64
	cfg := changefeed.TestConfig()
	cfg.HostName = "host-a"
	proc, err := changefeed.NewProcessor(&cfg, store, src, changefeed.HandlerFunc(func(_ context.Context, b changefeed.Batch) error {
		delivered.Add(int64(b.Len()))
		return nil
	}), changefeed.WithLogger(cftest.NewTestLogger(t)))
	require.NoError(t, err)
	require.NoError(t, proc.Start(t.Context()))
	t.Cleanup(func() { _ = proc.Stop(context.Background()) })

	// Latest-version mode may fold both versions of order-1 into one delivery.
	require.Eventually(t, func() bool {
		lag, err := proc.EstimatedLag(t.Context())
		return err == nil && len(lag) == 2 && changefeed.TotalLag(lag) == 0 && delivered.Load() >= 2
	}, 10*time.Second, 20*time.Millisecond)

	state := execute(t, url, "state")
	lines := strings.Split(strings.TrimSpace(state), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, []string{"PARTITION", "OWNER", "TOKEN", "LAG"}, strings.Fields(lines[0]))
	require.Equal(t, []string{"p-0", "host-a", "2", "0"}, strings.Fields(lines[1]))
	require.Equal(t, []string{"p-1", "host-a", "3", "0"}, strings.Fields(lines[2]))

	require.Equal(t, "p-0\t0\np-1\t0\ntotal\t0\n", execute(t, url, "lag"))
	require.Equal(t, "reset 2 leases\n", execute(t, url, "reset"))
}

func TestPublish_RejectsBadInput(t *testing.T) {
	root := newRootCommand(slog.New(slog.NewTextHandler(io.Discard, nil)))
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)

	root.SetArgs([]string{"publish", "--id", "x", "--op", "upsert"})
	require.ErrorContains(t, root.ExecuteContext(t.Context()), "invalid --op")

	root.SetArgs([]string{"publish", "--id", "x", "--data", "{"})
	require.ErrorContains(t, root.ExecuteContext(t.Context()), "not valid JSON")
}
