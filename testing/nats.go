package testing

import (
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSOption customizes the embedded server started by StartEmbeddedNATS.
type NATSOption func(*server.Options)

// WithStoreDir stores JetStream data in dir instead of a per-test temp dir.
//
// Two servers started one after the other with the same dir see the same
// buckets and streams, which lets a test simulate a broker restart.
func WithStoreDir(dir string) NATSOption {
	return func(o *server.Options) {
		o.StoreDir = dir
	}
}

// WithServerName sets the server name reported to clients.
func WithServerName(name string) NATSOption {
	return func(o *server.Options) {
		o.ServerName = name
	}
}

// StartEmbeddedNATS runs an in-process JetStream-enabled NATS server on a
// random loopback port and connects a client to it.
//
// Both are torn down by t.Cleanup: the client first, then the server.
//
// Example:
//
//	func TestLeaseStore(t *testing.T) {
//	    _, nc := cftest.StartEmbeddedNATS(t)
//	    store, err := leasestore.OpenKV(t.Context(), cftest.NewJetStream(t, nc), leasestore.KVConfig{MemoryStorage: true})
//	    require.NoError(t, err)
//	}
func StartEmbeddedNATS(t testing.TB, opts ...NATSOption) (*server.Server, *nats.Conn) {
	t.Helper()

	sopts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		NoLog:     true,
		NoSigs:    true,
	}
	for _, opt := range opts {
		opt(sopts)
	}
	if sopts.StoreDir == "" {
		sopts.StoreDir = t.TempDir()
	}

	srv, err := server.NewServer(sopts)
	if err != nil {
		t.Fatalf("embedded nats: new server: %v", err)
	}
	go srv.Start()

	if !srv.ReadyForConnections(5 * time.Second) {
		srv.Shutdown()
		t.Fatal("embedded nats: server not ready after 5s")
	}

	nc, err := nats.Connect(srv.ClientURL(),
		nats.Name(t.Name()),
		nats.Timeout(2*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(3),
	)
	if err != nil {
		srv.Shutdown()
		t.Fatalf("embedded nats: connect: %v", err)
	}

	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
		srv.WaitForShutdown()
	})

	return srv, nc
}

// NewJetStream returns a JetStream context over nc.
func NewJetStream(t testing.TB, nc *nats.Conn) jetstream.JetStream {
	t.Helper()

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("embedded nats: jetstream: %v", err)
	}

	return js
}

// CreateJetStreamKV creates a memory-backed, single-history KV bucket named
// bucket. The bucket has no TTL, matching what the lease store requires.
func CreateJetStreamKV(t testing.TB, nc *nats.Conn, bucket string) jetstream.KeyValue {
	t.Helper()

	kv, err := NewJetStream(t, nc).CreateKeyValue(t.Context(), jetstream.KeyValueConfig{
		Bucket:   bucket,
		History:  1,
		Storage:  jetstream.MemoryStorage,
		Replicas: 1,
	})
	if err != nil {
		t.Fatalf("embedded nats: create bucket %s: %v", bucket, err)
	}

	return kv
}
