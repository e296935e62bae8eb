package leasestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/arloliu/changefeed/types"
)

// DefaultRedisNamespace prefixes every key written by the Redis store.
const DefaultRedisNamespace = "changefeed"

// Each lease is a hash {v: version, d: JSON body}. A per-prefix set indexes
// partition IDs and a per-prefix counter issues versions, so a lease that is
// deleted and recreated never reuses an old version. All keys of one prefix
// share a hash tag and therefore a cluster slot.
var (
	createScript = redis.NewScript(3, `
if redis.call('EXISTS', KEYS[1]) == 1 then return -1 end
local v = redis.call('INCR', KEYS[3])
redis.call('HMSET', KEYS[1], 'v', v, 'd', ARGV[1])
redis.call('SADD', KEYS[2], ARGV[2])
return v
`)

	updateScript = redis.NewScript(3, `
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then return -2 end
if cur ~= ARGV[1] then return -1 end
local v = redis.call('INCR', KEYS[3])
redis.call('HMSET', KEYS[1], 'v', v, 'd', ARGV[2])
return v
`)

	deleteScript = redis.NewScript(2, `
local cur = redis.call('HGET', KEYS[1], 'v')
if not cur then return -2 end
if cur ~= ARGV[1] then return -1 end
redis.call('DEL', KEYS[1])
redis.call('SREM', KEYS[2], ARGV[2])
return 1
`)

	listScript = redis.NewScript(1, `
local ids = redis.call('SMEMBERS', KEYS[1])
local out = {}
for _, id in ipairs(ids) do
  local r = redis.call('HMGET', ARGV[1] .. id, 'v', 'd')
  if r[1] then
    table.insert(out, r[1])
    table.insert(out, r[2])
  end
end
return out
`)
)

const (
	scriptConflict = -1
	scriptNotFound = -2
)

// RedisConfig configures a Redis connection pool for the lease store.
type RedisConfig struct {
	// Addr is the Redis server address (host:port).
	Addr string `yaml:"addr"`

	// Namespace prefixes every key (default: "changefeed").
	Namespace string `yaml:"namespace"`

	// MaxIdle is the maximum number of idle pooled connections (default: 4).
	MaxIdle int `yaml:"maxIdle"`

	// IdleTimeout closes pooled connections idle for longer (default: 4m).
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// NewRedisPool creates a redigo connection pool for cfg.
func NewRedisPool(cfg RedisConfig) *redis.Pool {
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 4 * time.Minute
	}

	return &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: cfg.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", cfg.Addr)
		},
	}
}

// Redis is a types.LeaseStore backed by Redis.
//
// Conditional writes are Lua scripts, so every operation is atomic on the server.
type Redis struct {
	pool      *redis.Pool
	namespace string
}

var _ types.LeaseStore = (*Redis)(nil)

// NewRedis creates a Redis lease store over pool.
//
// Parameters:
//   - pool: redigo connection pool
//   - namespace: Key namespace (default: "changefeed")
func NewRedis(pool *redis.Pool, namespace string) *Redis {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}

	return &Redis{pool: pool, namespace: namespace}
}

func (s *Redis) leaseKeyPrefix(prefix string) string {
	return fmt.Sprintf("%s:{%s}:lease:", s.namespace, prefix)
}

func (s *Redis) indexKey(prefix string) string {
	return fmt.Sprintf("%s:{%s}:index", s.namespace, prefix)
}

func (s *Redis) seqKey(prefix string) string {
	return fmt.Sprintf("%s:{%s}:seq", s.namespace, prefix)
}

// Get reads one lease.
func (s *Redis) Get(ctx context.Context, prefix, partitionID string) (types.Lease, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, wrapRedisError(err))
	}
	defer conn.Close()

	fields, err := redis.ByteSlices(redis.DoContext(conn, ctx, "HMGET", s.leaseKeyPrefix(prefix)+partitionID, "v", "d"))
	if err != nil {
		return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, wrapRedisError(err))
	}
	if len(fields) != 2 || fields[0] == nil {
		return types.Lease{}, fmt.Errorf("get %s/%s: %w", prefix, partitionID, types.ErrLeaseNotFound)
	}

	return decodeRedisLease(fields[0], fields[1])
}

// Create writes a new lease row.
func (s *Redis) Create(ctx context.Context, lease types.Lease) (types.Lease, error) {
	if err := lease.Validate(); err != nil {
		return types.Lease{}, err
	}
	data, err := encodeLease(lease)
	if err != nil {
		return types.Lease{}, err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, wrapRedisError(err))
	}
	defer conn.Close()

	v, err := redis.Int64(createScript.Do(conn,
		s.leaseKeyPrefix(lease.Prefix)+lease.PartitionID, s.indexKey(lease.Prefix), s.seqKey(lease.Prefix),
		data, lease.PartitionID))
	if err != nil {
		return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, wrapRedisError(err))
	}
	if v == scriptConflict {
		return types.Lease{}, fmt.Errorf("create %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrLeaseExists)
	}
	lease.Version = uint64(v) //nolint:gosec // INCR results are positive

	return lease, nil
}

// Update replaces a lease row when its version equals expectedVersion.
func (s *Redis) Update(ctx context.Context, lease types.Lease, expectedVersion uint64) (uint64, error) {
	if err := lease.Validate(); err != nil {
		return 0, err
	}
	data, err := encodeLease(lease)
	if err != nil {
		return 0, err
	}

	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, wrapRedisError(err))
	}
	defer conn.Close()

	v, err := redis.Int64(updateScript.Do(conn,
		s.leaseKeyPrefix(lease.Prefix)+lease.PartitionID, s.indexKey(lease.Prefix), s.seqKey(lease.Prefix),
		strconv.FormatUint(expectedVersion, 10), data))
	if err != nil {
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, wrapRedisError(err))
	}

	switch v {
	case scriptNotFound:
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrLeaseNotFound)
	case scriptConflict:
		return 0, fmt.Errorf("update %s/%s: %w", lease.Prefix, lease.PartitionID, types.ErrVersionConflict)
	default:
		return uint64(v), nil //nolint:gosec // INCR results are positive
	}
}

// Delete removes a lease row when its version equals expectedVersion.
func (s *Redis) Delete(ctx context.Context, prefix, partitionID string, expectedVersion uint64) error {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, wrapRedisError(err))
	}
	defer conn.Close()

	v, err := redis.Int64(deleteScript.Do(conn,
		s.leaseKeyPrefix(prefix)+partitionID, s.indexKey(prefix),
		strconv.FormatUint(expectedVersion, 10), partitionID))
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, wrapRedisError(err))
	}

	switch v {
	case scriptNotFound:
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, types.ErrLeaseNotFound)
	case scriptConflict:
		return fmt.Errorf("delete %s/%s: %w", prefix, partitionID, types.ErrVersionConflict)
	default:
		return nil
	}
}

// List returns every lease under prefix, sorted by partition ID.
func (s *Redis) List(ctx context.Context, prefix string) ([]types.Lease, error) {
	conn, err := s.pool.GetContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, wrapRedisError(err))
	}
	defer conn.Close()

	flat, err := redis.ByteSlices(listScript.Do(conn, s.indexKey(prefix), s.leaseKeyPrefix(prefix)))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, wrapRedisError(err))
	}

	leases := make([]types.Lease, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		lease, err := decodeRedisLease(flat[i], flat[i+1])
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		leases = append(leases, lease)
	}
	sortLeases(leases)

	return leases, nil
}

func decodeRedisLease(rawVersion, data []byte) (types.Lease, error) {
	version, err := strconv.ParseUint(string(rawVersion), 10, 64)
	if err != nil {
		return types.Lease{}, fmt.Errorf("invalid lease version %q: %w", rawVersion, err)
	}

	return decodeLease(data, version)
}

// wrapRedisError tags everything except server error replies as unavailability.
func wrapRedisError(err error) error {
	var replyErr redis.Error
	if errors.As(err, &replyErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %w", types.ErrStoreUnavailable, err)
}
