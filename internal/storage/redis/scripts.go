package redis

const (
	// replaceStateScript atomically swaps the whole persisted state.
	//
	// ARGV layout: <n>, n x (user_id, started_at_ms), <m>, m x (user_id, record_json), <saved_at>
	replaceStateScript = `
local active_key = KEYS[1]     -- {prefix}:state:active
local history_key = KEYS[2]    -- {prefix}:state:history
local order_key = KEYS[3]      -- {prefix}:state:history:order
local saved_key = KEYS[4]      -- {prefix}:state:saved_at

redis.call('DEL', active_key, history_key, order_key)

local idx = 1
local n = tonumber(ARGV[idx])
idx = idx + 1
for i = 1, n do
  redis.call('HSET', active_key, ARGV[idx], ARGV[idx + 1])
  idx = idx + 2
end

local m = tonumber(ARGV[idx])
idx = idx + 1
for i = 1, m do
  redis.call('HSET', history_key, ARGV[idx], ARGV[idx + 1])
  redis.call('RPUSH', order_key, ARGV[idx])
  idx = idx + 2
end

redis.call('SET', saved_key, ARGV[idx])

return 'OK'
`
)
