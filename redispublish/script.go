/*
 * Copyright (c) 2023. Monimoto Authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package redispublish

import "github.com/redis/go-redis/v9"

// Argument layout per event slot (spec.md §4.4). Stride is 6 with
// deduplication enabled (the dedup TTL occupies the 6th offset), 5
// without.
const (
	strideWithoutDedup = 5
	strideWithDedup    = 6
)

// scriptWithoutDeduplication fans each event in the batch out to its
// collection channel, document channel, and namespace channels, with no
// dedup check. ARGV[1] is the batch size; each event occupies a
// strideWithoutDedup-wide ARGV slice starting at 1 + (i-1)*stride + 1.
var scriptWithoutDeduplication = redis.NewScript(`
local batch_size = tonumber(ARGV[1])
for i = 1, batch_size do
  local base = 1 + (i - 1) * 5
  local db = ARGV[base + 1]
  local collection = ARGV[base + 2]
  local namespaces = ARGV[base + 3]
  local document_id = ARGV[base + 4]
  local op = ARGV[base + 5]

  redis.call("PUBLISH", db .. "." .. collection, op)
  redis.call("PUBLISH", db .. "." .. collection .. "::" .. document_id, op)

  if namespaces ~= "" then
    for ns in string.gmatch(namespaces, "([^,]+)") do
      redis.call("PUBLISH", db .. "." .. ns .. "::" .. document_id, op)
    end
  end
end
return batch_size
`)

// scriptWithDeduplication additionally checks/sets a TTL'd dedup key
// (KEYS[i], set by the client to the fmt %v rendering of event_id; see
// dedupKey) before fanning out;
// an already-seen event_id is skipped entirely for that slot.
var scriptWithDeduplication = redis.NewScript(`
local batch_size = tonumber(ARGV[1])
for i = 1, batch_size do
  local base = 1 + (i - 1) * 6
  local db = ARGV[base + 1]
  local collection = ARGV[base + 2]
  local namespaces = ARGV[base + 3]
  local document_id = ARGV[base + 4]
  local op = ARGV[base + 5]
  local ttl = ARGV[base + 6]

  if redis.call("GET", KEYS[i]) == false then
    redis.call("SETEX", KEYS[i], ttl, 1)

    redis.call("PUBLISH", db .. "." .. collection, op)
    redis.call("PUBLISH", db .. "." .. collection .. "::" .. document_id, op)

    if namespaces ~= "" then
      for ns in string.gmatch(namespaces, "([^,]+)") do
        redis.call("PUBLISH", db .. "." .. ns .. "::" .. document_id, op)
      end
    end
  end
end
return batch_size
`)
