package usagestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// RedisStore implements Store with one hash per tenant. Mutations run as
// Lua scripts so the existence check, ceiling check and write happen
// atomically on the server.
//
// Hash layout: plan, period_start, period_end, last_reset (unix millis) and
// one integer field per resource, named after domain.Resource.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using client. Keys are namespaced under
// prefix (e.g. "wrenchly").
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "wrenchly"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(tenantID uuid.UUID) string {
	return fmt.Sprintf("%s:usage:%s", s.prefix, tenantID)
}

func (s *RedisStore) indexKey() string {
	return s.prefix + ":usage:tenants"
}

// Script results. notFound is distinct from zero so callers can tell a
// missing tenant from a refused write.
const (
	scriptNotFound int64 = -1
	scriptRefused  int64 = 0
	scriptApplied  int64 = 1
)

var provisionScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1],
  'plan', ARGV[1], 'period_start', ARGV[2], 'period_end', ARGV[3], 'last_reset', ARGV[4],
  'apiCalls', 0, 'workOrders', 0, 'users', 0, 'storageMb', 0)
redis.call('SADD', KEYS[2], ARGV[5])
return 1
`)

var incrementScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

var tryConsumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if current + tonumber(ARGV[2]) > tonumber(ARGV[3]) then return 0 end
redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

var resetScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
if ARGV[4] == '1' then
  local period_end = tonumber(redis.call('HGET', KEYS[1], 'period_end'))
  if tonumber(ARGV[1]) < period_end then return 0 end
end
redis.call('HSET', KEYS[1],
  'apiCalls', 0, 'workOrders', 0, 'users', 0, 'storageMb', 0,
  'period_start', ARGV[2], 'period_end', ARGV[3], 'last_reset', ARGV[1])
return 1
`)

var setPlanScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('HSET', KEYS[1], 'plan', ARGV[1])
return 1
`)

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func (s *RedisStore) Provision(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, now time.Time) (*domain.TenantUsage, error) {
	fresh := domain.NewTenantUsage(tenantID, plan, now)
	keys := []string{s.key(tenantID), s.indexKey()}
	_, err := provisionScript.Run(ctx, s.client, keys,
		string(plan), millis(fresh.PeriodStart), millis(fresh.PeriodEnd), millis(fresh.LastReset), tenantID.String(),
	).Int64()
	if err != nil {
		return nil, &StoreError{Op: "Provision", TenantID: tenantID, Err: err}
	}
	return s.Get(ctx, tenantID)
}

func (s *RedisStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	fields, err := s.client.HGetAll(ctx, s.key(tenantID)).Result()
	if err != nil {
		return nil, &StoreError{Op: "Get", TenantID: tenantID, Err: err}
	}
	if len(fields) == 0 {
		return nil, &StoreError{Op: "Get", TenantID: tenantID, Err: ErrTenantNotFound}
	}
	u, err := decodeHash(tenantID, fields)
	if err != nil {
		return nil, &StoreError{Op: "Get", TenantID: tenantID, Err: err}
	}
	return u, nil
}

func (s *RedisStore) Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error) {
	if err := validateResource("Increment", tenantID, resource); err != nil {
		return nil, err
	}
	if err := validateAmount("Increment", tenantID, amount); err != nil {
		return nil, err
	}
	if _, err := s.run(ctx, "Increment", tenantID, incrementScript, string(resource), amount); err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID)
}

func (s *RedisStore) TryConsume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64, limit domain.Limit) (*domain.TenantUsage, bool, error) {
	if err := validateResource("TryConsume", tenantID, resource); err != nil {
		return nil, false, err
	}
	if err := validateAmount("TryConsume", tenantID, amount); err != nil {
		return nil, false, err
	}

	var res int64
	var err error
	if limit.IsUnlimited() {
		res, err = s.run(ctx, "TryConsume", tenantID, incrementScript, string(resource), amount)
	} else {
		max, _ := limit.Max()
		res, err = s.run(ctx, "TryConsume", tenantID, tryConsumeScript, string(resource), amount, max)
	}
	if err != nil {
		return nil, false, err
	}

	u, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return u, res == scriptApplied, nil
}

func (s *RedisStore) Reset(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, error) {
	u, _, err := s.reset(ctx, "Reset", tenantID, now, false)
	return u, err
}

func (s *RedisStore) RolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error) {
	return s.reset(ctx, "RolloverIfDue", tenantID, now, true)
}

func (s *RedisStore) reset(ctx context.Context, op string, tenantID uuid.UUID, now time.Time, onlyIfDue bool) (*domain.TenantUsage, bool, error) {
	start, end := domain.UsageWindow(now)
	flag := "0"
	if onlyIfDue {
		flag = "1"
	}
	res, err := s.run(ctx, op, tenantID, resetScript, millis(now), millis(start), millis(end), flag)
	if err != nil {
		return nil, false, err
	}
	u, err := s.Get(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}
	return u, res == scriptApplied, nil
}

func (s *RedisStore) SetPlan(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID) (*domain.TenantUsage, error) {
	if _, err := s.run(ctx, "SetPlan", tenantID, setPlanScript, string(plan)); err != nil {
		return nil, err
	}
	return s.Get(ctx, tenantID)
}

func (s *RedisStore) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	members, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, &StoreError{Op: "ListTenants", Err: err}
	}
	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids, nil
}

func (s *RedisStore) ListDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	ids, err := s.ListTenants(ctx)
	if err != nil {
		return nil, err
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGet(ctx, s.key(id), "period_end")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, &StoreError{Op: "ListDue", Err: err}
	}

	cutoff := millis(now)
	due := make([]uuid.UUID, 0)
	for i, cmd := range cmds {
		end, err := cmd.Int64()
		if err != nil {
			continue
		}
		if cutoff >= end {
			due = append(due, ids[i])
		}
	}
	return due, nil
}

func (s *RedisStore) run(ctx context.Context, op string, tenantID uuid.UUID, script *redis.Script, args ...any) (int64, error) {
	res, err := script.Run(ctx, s.client, []string{s.key(tenantID)}, args...).Int64()
	if err != nil {
		return 0, &StoreError{Op: op, TenantID: tenantID, Err: err}
	}
	if res == scriptNotFound {
		return 0, &StoreError{Op: op, TenantID: tenantID, Err: ErrTenantNotFound}
	}
	return res, nil
}

func decodeHash(tenantID uuid.UUID, fields map[string]string) (*domain.TenantUsage, error) {
	u := &domain.TenantUsage{
		TenantID: tenantID,
		PlanID:   domain.PlanID(fields["plan"]),
	}

	times := map[string]*time.Time{
		"period_start": &u.PeriodStart,
		"period_end":   &u.PeriodEnd,
		"last_reset":   &u.LastReset,
	}
	for name, dst := range times {
		ms, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		*dst = time.UnixMilli(ms).UTC()
	}

	for _, r := range domain.Resources {
		raw, ok := fields[string(r)]
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", r, err)
		}
		u.Counters.Add(r, n)
	}
	return u, nil
}
