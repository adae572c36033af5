package redisstore

import "github.com/redis/go-redis/v9"

const (
	statusNotFound int64 = 0
	statusExpired  int64 = 1
	statusConsumed int64 = 2
	statusOK       int64 = 3
	statusConflict int64 = 4
)

// saveBody expects the new record's keys at KEYS[k], KEYS[k+1], KEYS[k+2]
// (token, family, index) and its fields at ARGV[a]..ARGV[a+9].
const saveBody = `
local function save_record(k, a)
  redis.call("HSET", KEYS[k],
    "uid", ARGV[a + 1], "fid", ARGV[a + 2], "sh", ARGV[a + 3],
    "iat", ARGV[a + 4], "exp", ARGV[a + 5], "aexp", ARGV[a + 6], "pid", ARGV[a + 7])
  local ttl = tonumber(ARGV[a + 8])
  redis.call("PEXPIRE", KEYS[k], ttl)
  redis.call("SADD", KEYS[k + 1], ARGV[a])
  if redis.call("PTTL", KEYS[k + 1]) < ttl then
    redis.call("PEXPIRE", KEYS[k + 1], ttl)
  end
  redis.call("ZADD", KEYS[k + 2], ARGV[a + 5], ARGV[a + 9])
end
`

const consumeBody = `
local function consume_record(key, now_ms)
  local now = tonumber(now_ms)
  local v = redis.call("HMGET", key, "exp", "cat")
  if not v[1] then
    return 0
  end
  if v[2] then
    return 2
  end
  if now > tonumber(v[1]) then
    return 1
  end
  redis.call("HSET", key, "cat", now_ms)
  return 3
end
`

var saveLua = redis.NewScript(saveBody + `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 4
end
save_record(1, 1)
return 3
`)

var consumeLua = redis.NewScript(consumeBody + `
return consume_record(KEYS[1], ARGV[1])
`)

// KEYS: old token, new token, new family, index. ARGV[1]: now, ARGV[2..]: new record.
var rotateLua = redis.NewScript(saveBody + consumeBody + `
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 4
end
local status = consume_record(KEYS[1], ARGV[1])
if status ~= 3 then
  return status
end
save_record(2, 2)
return 3
`)

// KEYS: family. ARGV: token key prefix, now.
var revokeFamilyLua = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
local revoked = 0
for _, id in ipairs(ids) do
  local key = ARGV[1] .. id
  if redis.call("EXISTS", key) == 1 and redis.call("HEXISTS", key, "cat") == 0 then
    redis.call("HSET", key, "cat", ARGV[2], "rev", "1")
    revoked = revoked + 1
  end
end
return revoked
`)

// KEYS: index. ARGV: exclusive cutoff, batch size, token key prefix, family key prefix.
var sweepLua = redis.NewScript(`
local members = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[1], "LIMIT", 0, tonumber(ARGV[2]))
for _, m in ipairs(members) do
  local sep = string.find(m, ":", 1, true)
  if sep then
    local id = string.sub(m, 1, sep - 1)
    local fid = string.sub(m, sep + 1)
    redis.call("DEL", ARGV[3] .. id)
    redis.call("SREM", ARGV[4] .. fid, id)
  end
  redis.call("ZREM", KEYS[1], m)
end
return #members
`)
