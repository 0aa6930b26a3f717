// Copyright 2017 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package redisqs

import "github.com/go-redis/redis"

// KEYS[1] bucket set, KEYS[2] generation counter.
// ARGV[1] JSON array of buckets, or "" to remove all buckets.
var configureScript = redis.NewScript(`
local gen = redis.call("INCR", KEYS[2])
if ARGV[1] == "" then
  redis.call("DEL", KEYS[1])
  return gen
end
redis.call("SET", KEYS[1], '{"generation":"' .. gen .. '","buckets":' .. ARGV[1] .. '}')
return gen
`)

// KEYS[1] bucket set.
// ARGV[1] now in ms, ARGV[2] cost.
var reserveScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return {1, "", "", 0}
end
local set = cjson.decode(raw)
local now = tonumber(ARGV[1])
local cost = tonumber(ARGV[2])

for _, b in ipairs(set.buckets) do
  if now - b.start_ms >= b.window_ms then
    b.start_ms = now
    b.consumed = 0
  end
end
for _, b in ipairs(set.buckets) do
  if b.consumed + cost > b.capacity then
    return {0, b.capacity, b.window_ms, b.start_ms + b.window_ms - now}
  end
end

local starts = {}
for i, b in ipairs(set.buckets) do
  b.consumed = b.consumed + cost
  starts[i] = b.start_ms
end
redis.call("SET", KEYS[1], cjson.encode(set))
return {1, set.generation, cjson.encode(starts), 0}
`)

// KEYS[1] bucket set.
// ARGV[1] generation, ARGV[2] now in ms, ARGV[3] cost, ARGV[4] JSON array of
// window starts.
var releaseScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
  return 0
end
local set = cjson.decode(raw)
if set.generation ~= ARGV[1] then
  return 0
end
local now = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local starts = cjson.decode(ARGV[4])
if #starts ~= #set.buckets then
  return 0
end

local returned = 0
for i, b in ipairs(set.buckets) do
  if b.start_ms == starts[i] and now - b.start_ms < b.window_ms then
    b.consumed = math.max(0, b.consumed - cost)
    returned = 1
  end
end
if returned == 1 then
  redis.call("SET", KEYS[1], cjson.encode(set))
end
return returned
`)
