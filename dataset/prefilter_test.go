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
	"testing"

	"github.com/stretchr/testify/assert"
)

func prefilterTransactions() []Transaction {
	var transactions []Transaction
	// bought by everyone
	for userId := int64(1); userId <= 10; userId++ {
		transactions = append(transactions, Transaction{UserId: userId, ItemId: 1, Quantity: 1, Day: 100})
	}
	return append(transactions,
		Transaction{UserId: 1, ItemId: 2, Quantity: 1, Day: 100},
		Transaction{UserId: 2, ItemId: 2, Quantity: 1, Day: 100},
		Transaction{UserId: 3, ItemId: 2, Quantity: 1, Day: 100},
		Transaction{UserId: 1, ItemId: 3, Quantity: 5, Day: 100},
		Transaction{UserId: 2, ItemId: 3, Quantity: 5, Day: 100},
		// not sold recently
		Transaction{UserId: 1, ItemId: 4, Quantity: 1, Day: 1},
		// bought by too few users
		Transaction{UserId: 1, ItemId: 5, Quantity: 1, Day: 100},
	)
}

func TestPrefilter(t *testing.T) {
	transactions := prefilterTransactions()
	prefilter := &Prefilter{
		RecentDays:   30,
		MaxUserShare: 0.5,
		MinUserShare: 0.15,
		TopN:         1,
		Sentinel:     999,
	}
	assert.Equal(t, []Transaction{
		{UserId: 1, ItemId: 999, Quantity: 1, Day: 100},
		{UserId: 2, ItemId: 999, Quantity: 1, Day: 100},
		{UserId: 3, ItemId: 999, Quantity: 1, Day: 100},
		{UserId: 1, ItemId: 3, Quantity: 5, Day: 100},
		{UserId: 2, ItemId: 3, Quantity: 5, Day: 100},
	}, prefilter.Apply(transactions))
	// input is left untouched
	assert.Equal(t, prefilterTransactions(), transactions)
}

func TestPrefilterDisabled(t *testing.T) {
	prefilter := &Prefilter{MaxUserShare: 1, Sentinel: 999}
	assert.Equal(t, prefilterTransactions(), prefilter.Apply(prefilterTransactions()))
	assert.Empty(t, prefilter.Apply(nil))
}
