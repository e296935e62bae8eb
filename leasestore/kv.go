package leasestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/changefeed/internal/kvutil"
	"github.com/arloliu/changefeed/internal/natsutil"
	"github.com/arloliu/changefeed/types"
)

// DefaultKVBucket is the bucket used when KVConfig.Bucket is empty.
const DefaultKVBucket = "changefeed-leases"

var prefixPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// KVConfig configures the NATS KV lease bucket.
type KVConfig struct {
	// Bucket is the KV bucket name (default: "changefeed-leases").
	Bucket string `yaml:"bucket"`

	// Replicas is the bucket replication factor (default: 1).
	Replicas int `yaml:"replicas"`

	// MemoryStorage keeps the bucket in memory instead of on disk.
	MemoryStorage bool `yaml:"memoryStorage"`

	// MaxRetries bounds bucket creation attempts (default: 3).
	MaxRetries int `yaml:"maxRetries"`
}

// KV is a types.LeaseStore backed by a NATS JetStream KeyValue bucket.
//
// Keys have the form "<prefix>.<partition>" where the partition ID is
// base64url encoded, so any valid partition ID maps to a legal KV key.
// The KV revision of a key is the lease version.
type KV struct {
	kv jetstream.KeyValue
}

var _ types.LeaseStore = (*KV)(nil)

// NewKV wraps an existing KV bucket.
//
// The bucket must not have a TTL; leases persist until deleted.
func NewKV(kv jetstream.KeyValue) *KV {
	return &KV{kv: kv}
}

// OpenKV creates or opens the lease bucket and returns a store over it.
//
// Parameters:
//   - ctx: Context for bucket creation
//   - js: JetStream context
//   - cfg: Bucket configuration (zero values use defaults)
//
// Returns:
//   - *KV: Lease store bound to the bucket
//   - error: Bucket creation error after retries
func OpenKV(ctx context.Context, js jetstream.JetStream, cfg KVConfig) (*KV, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = DefaultKVBucket
	}
	if cfg.Replicas <= 0 {
		cfg.Replicas = 1
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}

	kv, err := kvutil.EnsureKVBucketWithRetry(ctx, js, jetstream.KeyValueConfig{
		Bucket:      cfg.Bucket,
		Description: "changefeed lease store",
		History:     1,
		Storage:     storage,
		Replicas:    cfg.Replicas,
	}, cfg.MaxRetries)
	if err != nil {
		return nil, natsutil.WrapUnavailable(err)
	}

	return NewKV(kv), nil
}

// Get reads one lease.
func (s *KV) Get(ctx context.Context, prefix, partitionID string) (types.Lease, error) {
	key, err := leaseKey(prefix, partitionID)
	if err != nil {
		return types.Lease{}, err
	}

	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, types.ErrLeaseNotFound)
		}

		return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, natsutil.WrapUnavailable(err))
	}

	return decodeLease(entry.Value(), entry.Revision())
}

// Create writes a new lease row.
func (s *KV) Create(ctx context.Context, lease types.Lease) (types.Lease, error) {
	if err := lease.Validate(); err != nil {
		return types.Lease{}, err
	}
	key, err := leaseKey(lease.Prefix, lease.PartitionID)
	if err != nil {
		return types.Lease{}, err
	}

	data, err := encodeLease(lease)
	if err != nil {
		return types.Lease{}, err
	}

	rev, err := s.kv.Create(ctx, key, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrLeaseExists)
		}

		return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, natsutil.WrapUnavailable(err))
	}
	lease.Version = rev

	return lease, nil
}

// Update replaces a lease row when its KV revision equals expectedVersion.
func (s *KV) Update(ctx context.Context, lease types.Lease, expectedVersion uint64) (uint64, error) {
	if err := lease.Validate(); err != nil {
		return 0, err
	}
	key, err := leaseKey(lease.Prefix, lease.PartitionID)
	if err != nil {
		return 0, err
	}

	data, err := encodeLease(lease)
	if err != nil {
		return 0, err
	}

	rev, err := s.kv.Update(ctx, key, data, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, s.classifyWriteError(ctx, key, err))
	}

	return rev, nil
}

// Delete removes a lease row when its KV revision equals expectedVersion.
func (s *KV) Delete(ctx context.Context, prefix, partitionID string, expectedVersion uint64) error {
	key, err := leaseKey(prefix, partitionID)
	if err != nil {
		return err
	}

	if err := s.kv.Delete(ctx, key, jetstream.LastRevision(expectedVersion)); err != nil {
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, s.classifyWriteError(ctx, key, err))
	}

	return nil
}

// List returns every lease under prefix, sorted by partition ID.
//
// The listing is the initial snapshot of a KV watch on "<prefix>.>", which
// returns values and revisions in one pass and skips deleted rows.
func (s *KV) List(ctx context.Context, prefix string) ([]types.Lease, error) {
	if !prefixPattern.MatchString(prefix) {
		return nil, fmt.Errorf("%w: prefix %q", types.ErrInvalidLease, prefix)
	}

	w, err := s.kv.Watch(ctx, prefix+".>", jetstream.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, natsutil.WrapUnavailable(err))
	}
	defer func() { _ = w.Stop() }()

	var leases []types.Lease
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("list %s: %w", prefix, ctx.Err())
		case entry, ok := <-w.Updates():
			if !ok {
				return nil, fmt.Errorf("list %s: watcher closed: %w", prefix, types.ErrStoreUnavailable)
			}
			if entry == nil {
				sortLeases(leases)
				return leases, nil
			}
			if entry.Operation() != jetstream.KeyValuePut {
				continue
			}

			lease, err := decodeLease(entry.Value(), entry.Revision())
			if err != nil {
				return nil, fmt.Errorf("list %s: key %s: %w", prefix, entry.Key(), err)
			}
			keyPrefix, pid, err := partitionFromKey(entry.Key())
			if err != nil {
				return nil, fmt.Errorf("list %s: %w", prefix, err)
			}
			if keyPrefix != lease.Prefix || pid != lease.PartitionID {
				return nil, fmt.Errorf("list %s: key %s holds lease %s/%s: %w",
					prefix, entry.Key(), lease.Prefix, lease.PartitionID, types.ErrInvalidLease)
			}
			leases = append(leases, lease)
		}
	}
}

// classifyWriteError maps a failed conditional write to the store taxonomy.
//
// JetStream reports both "row changed" and "row missing" as a wrong last
// sequence, so a follow-up read tells them apart.
func (s *KV) classifyWriteError(ctx context.Context, key string, err error) error {
	if !natsutil.IsWrongLastSequence(err) {
		return natsutil.WrapUnavailable(err)
	}

	if _, getErr := s.kv.Get(ctx, key); errors.Is(getErr, jetstream.ErrKeyNotFound) || errors.Is(getErr, jetstream.ErrKeyDeleted) {
		return types.ErrLeaseNotFound
	}

	return fmt.Errorf("%w: %w", types.ErrVersionConflict, err)
}

// leaseKey builds the KV key of a lease.
func leaseKey(prefix, partitionID string) (string, error) {
	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("%w: prefix %q must match %s", types.ErrInvalidLease, prefix, prefixPattern)
	}
	if err := types.ValidatePartitionID(partitionID); err != nil {
		return "", fmt.Errorf("%w: %w", types.ErrInvalidLease, err)
	}

	return prefix + "." + base64.RawURLEncoding.EncodeToString([]byte(partitionID)), nil
}

// partitionFromKey reverses leaseKey.
func partitionFromKey(key string) (prefix, partitionID string, err error) {
	prefix, encoded, ok := strings.Cut(key, ".")
	if !ok {
		return "", "", fmt.Errorf("malformed lease key %q", key)
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", "", fmt.Errorf("malformed lease key %q: %w", key, err)
	}

	return prefix, string(raw), nil
}
