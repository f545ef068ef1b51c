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

package labels

import (
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/candidates"
	"github.com/juju/errors"
)

// Score averages per-user metrics over users that bought anything in the reference.
type Score struct {
	Users     int
	Precision float64
	Recall    float64
}

// Evaluate compares the first k candidates of each user with actual purchases.
func Evaluate(lists []candidates.CandidateList, reference *Reference, k int) (Score, error) {
	if reference == nil {
		return Score{}, base.MissingReferencef("evaluate %d candidate lists", len(lists))
	}
	if k <= 0 {
		return Score{}, errors.NotValidf("k %d", k)
	}
	bought := make(map[int64]int)
	reference.pairs.Each(func(pair Pair) bool {
		bought[pair.UserId]++
		return false
	})

	var score Score
	for _, list := range lists {
		if bought[list.UserId] == 0 {
			continue
		}
		top := list.Items[:min(k, len(list.Items))]
		hit := 0
		for _, itemId := range top {
			if reference.Contains(list.UserId, itemId) {
				hit++
			}
		}
		if len(top) > 0 {
			score.Precision += float64(hit) / float64(len(top))
		}
		score.Recall += float64(hit) / float64(bought[list.UserId])
		score.Users++
	}
	if score.Users > 0 {
		score.Precision /= float64(score.Users)
		score.Recall /= float64(score.Users)
	}
	return score, nil
}
