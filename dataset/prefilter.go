// Copyright 2024 gorse Project Authors
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

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base/log"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Prefilter narrows the catalog before fitting. Items are dropped when they were not
// sold in the last RecentDays days, or when the share of users buying them is above
// MaxUserShare or below MinUserShare. Purchases of items outside the TopN best sold
// (by quantity) are rewritten to Sentinel.
type Prefilter struct {
	RecentDays   int
	MaxUserShare float64
	MinUserShare float64
	TopN         int
	Sentinel     int64
}

// Apply returns filtered copies of transactions. Non-positive RecentDays or TopN
// disable the matching step.
func (p *Prefilter) Apply(transactions []Transaction) []Transaction {
	n := len(transactions)
	if p.RecentDays > 0 && len(transactions) > 0 {
		lastDay := lo.MaxBy(transactions, func(a, b Transaction) bool { return a.Day > b.Day }).Day
		recent := mapset.NewThreadUnsafeSet[int64]()
		for _, txn := range transactions {
			if txn.Day >= lastDay-p.RecentDays {
				recent.Add(txn.ItemId)
			}
		}
		transactions = lo.Filter(transactions, func(txn Transaction, _ int) bool {
			return recent.Contains(txn.ItemId)
		})
	}

	// share of users computed once, before either bound is applied
	users := mapset.NewThreadUnsafeSet[int64]()
	itemUsers := make(map[int64]mapset.Set[int64])
	for _, txn := range transactions {
		users.Add(txn.UserId)
		if _, exist := itemUsers[txn.ItemId]; !exist {
			itemUsers[txn.ItemId] = mapset.NewThreadUnsafeSet[int64]()
		}
		itemUsers[txn.ItemId].Add(txn.UserId)
	}
	transactions = lo.Filter(transactions, func(txn Transaction, _ int) bool {
		share := float64(itemUsers[txn.ItemId].Cardinality()) / float64(users.Cardinality())
		return share <= p.MaxUserShare && share >= p.MinUserShare
	})

	result := slices.Clone(transactions)
	if p.TopN > 0 {
		sold := make(map[int64]float64)
		for _, txn := range result {
			sold[txn.ItemId] += txn.Quantity
		}
		items := lo.Keys(sold)
		slices.SortFunc(items, func(a, b int64) int {
			switch {
			case sold[a] > sold[b]:
				return -1
			case sold[a] < sold[b]:
				return 1
			case a < b:
				return -1
			case a > b:
				return 1
			}
			return 0
		})
		top := mapset.NewThreadUnsafeSet(items[:min(p.TopN, len(items))]...)
		for i := range result {
			if !top.Contains(result[i].ItemId) {
				result[i].ItemId = p.Sentinel
			}
		}
	}
	log.Logger().Info("prefilter transactions",
		zap.Int("n_before", n),
		zap.Int("n_after", len(result)),
		zap.Int("n_items", len(lo.Uniq(lo.Map(result, func(txn Transaction, _ int) int64 { return txn.ItemId })))))
	return result
}
