// Copyright 2022 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dataset

import (
	"slices"
)

// counter counts keys and remembers their first-seen order.
type counter struct {
	keys   []int64
	counts map[int64]int
}

func newCounter() *counter {
	return &counter{counts: make(map[int64]int)}
}

func (c *counter) add(key int64) {
	if _, exist := c.counts[key]; !exist {
		c.keys = append(c.keys, key)
	}
	c.counts[key]++
}

// mostCommon returns keys by descending count, ties kept in first-seen order.
func (c *counter) mostCommon() []int64 {
	keys := slices.Clone(c.keys)
	slices.SortStableFunc(keys, func(a, b int64) int {
		return c.counts[b] - c.counts[a]
	})
	return keys
}

// PopularityRanking ranks items by number of transactions, descending. Ties are broken
// by first appearance. The sentinel item is excluded.
func PopularityRanking(transactions []Transaction, sentinel int64) []int64 {
	c := newCounter()
	for _, txn := range transactions {
		if txn.ItemId != sentinel {
			c.add(txn.ItemId)
		}
	}
	return c.mostCommon()
}

// TopPurchases ranks the items of each user by number of transactions, descending.
// Ties are broken by first appearance. The sentinel item is excluded.
func TopPurchases(transactions []Transaction, sentinel int64) map[int64][]int64 {
	counters := make(map[int64]*counter)
	for _, txn := range transactions {
		if txn.ItemId == sentinel {
			continue
		}
		c, exist := counters[txn.UserId]
		if !exist {
			c = newCounter()
			counters[txn.UserId] = c
		}
		c.add(txn.ItemId)
	}
	purchases := make(map[int64][]int64, len(counters))
	for userId, c := range counters {
		purchases[userId] = c.mostCommon()
	}
	return purchases
}
