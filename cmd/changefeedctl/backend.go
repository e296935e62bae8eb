package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/spf13/cobra"

	"github.com/arloliu/changefeed"
	"github.com/arloliu/changefeed/feed"
	"github.com/arloliu/changefeed/leasestore"
)

// globalOptions holds the flags shared by every subcommand.
type globalOptions struct {
	configPath string
	natsURL    string
	store      string
	redisAddr  string
	bucket     string
	stream     string
	prefix     string
	partitions string
	memory     bool
}

func (o *globalOptions) register(cmd *cobra.Command) {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = nats.DefaultURL
	}

	f := cmd.PersistentFlags()
	f.StringVar(&o.configPath, "config", "", "YAML processor configuration file")
	f.StringVar(&o.natsURL, "nats-url", natsURL, "NATS server URL")
	f.StringVar(&o.store, "store", "kv", "Lease store: kv|redis")
	f.StringVar(&o.redisAddr, "redis-addr", "127.0.0.1:6379", "Redis address when --store=redis")
	f.StringVar(&o.bucket, "bucket", leasestore.DefaultKVBucket, "KV bucket holding leases")
	f.StringVar(&o.stream, "stream", "CHANGEFEED", "JetStream stream holding changes")
	f.StringVar(&o.prefix, "prefix", "", "Lease prefix (overrides the config file)")
	f.StringVar(&o.partitions, "partitions", "p-0", "Comma separated partition IDs")
	f.BoolVar(&o.memory, "memory", false, "Create the bucket and stream with memory storage")
}

// config loads the processor configuration and applies flag overrides.
func (o *globalOptions) config() (changefeed.Config, error) {
	cfg := changefeed.DefaultConfig()
	if o.configPath != "" {
		loaded, err := changefeed.LoadConfigFile(o.configPath)
		if err != nil {
			return changefeed.Config{}, err
		}
		cfg = loaded
	}
	if o.prefix != "" {
		cfg.LeasePrefix = o.prefix
	}

	return cfg, nil
}

// backend is an open NATS connection with the lease store and feed built on it.
type backend struct {
	nc    *nats.Conn
	store changefeed.LeaseStore
	feed  *feed.JetStream
	close func()
}

// open connects to NATS and opens the lease store and the change feed.
func (o *globalOptions) open(ctx context.Context) (*backend, error) {
	ids, err := splitPartitions(o.partitions)
	if err != nil {
		return nil, err
	}

	nc, err := nats.Connect(o.natsURL, nats.Name("changefeedctl"))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", o.natsURL, err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("init JetStream: %w", err)
	}

	b := &backend{nc: nc, close: nc.Close}

	switch o.store {
	case "kv":
		b.store, err = leasestore.OpenKV(ctx, js, leasestore.KVConfig{Bucket: o.bucket, MemoryStorage: o.memory})
	case "redis":
		pool := leasestore.NewRedisPool(leasestore.RedisConfig{Addr: o.redisAddr})
		b.store = leasestore.NewRedis(pool, "")
		b.close = func() {
			_ = pool.Close()
			nc.Close()
		}
	default:
		err = fmt.Errorf("invalid --store %q; use kv|redis", o.store)
	}
	if err != nil {
		b.close()
		return nil, err
	}

	b.feed, err = feed.OpenJetStream(ctx, js, feed.JetStreamConfig{Stream: o.stream, MemoryStorage: o.memory}, feed.StaticIDs(ids...))
	if err != nil {
		b.close()
		return nil, err
	}

	return b, nil
}
