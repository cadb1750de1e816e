package distributed

// keys are the Redis keys backing one shared bucket.
type keys struct {
	tokens    string
	last      string
	stats     string
	instances string
}

func redisKeys(prefix string) keys {
	return keys{
		tokens:    prefix + ":tokens",
		last:      prefix + ":last_refill",
		stats:     prefix + ":stats",
		instances: prefix + ":instances",
	}
}

// list returns the keys in the order luaConsume expects them.
func (k keys) list() []string {
	return []string{k.tokens, k.last, k.stats, k.instances}
}

// luaConsume refills and consumes atomically.
//
// The timestamp is stored as integer microseconds and always advances, even
// when the bucket is full, so idle time at capacity is never credited later.
const luaConsume = `
local requested = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local rate = tonumber(ARGV[3])
local capacity = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])
local instance = ARGV[6]

local tokens = tonumber(redis.call('GET', KEYS[1])) or capacity
local stamp = redis.call('GET', KEYS[2]) or ARGV[2]

local elapsed = now - tonumber(stamp)
if elapsed >= 0 then
    if tokens < capacity then
        tokens = math.min(capacity, tokens + rate * elapsed / 1000000)
    end
    stamp = ARGV[2]
end

local allowed = 0
if requested <= tokens then
    tokens = tokens - requested
    allowed = 1
end

redis.call('SET', KEYS[1], string.format('%.17g', tokens), 'PX', ttl)
redis.call('SET', KEYS[2], stamp, 'PX', ttl)

if allowed == 1 then
    redis.call('HINCRBY', KEYS[3], 'allowed_requests', 1)
else
    redis.call('HINCRBY', KEYS[3], 'denied_requests', 1)
end
redis.call('HINCRBY', KEYS[3], 'total_requests', 1)
redis.call('PEXPIRE', KEYS[3], ttl)

redis.call('SADD', KEYS[4], instance)
redis.call('PEXPIRE', KEYS[4], ttl)

return {allowed, string.format('%.17g', tokens)}
`
