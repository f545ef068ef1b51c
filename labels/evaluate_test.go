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
	"testing"

	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/candidates"
	"github.com/gorse-io/retail/dataset"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	reference := NewReference([]dataset.Transaction{
		{UserId: 1, ItemId: 10},
		{UserId: 1, ItemId: 11},
		{UserId: 2, ItemId: 20},
	})
	lists := []candidates.CandidateList{
		{UserId: 1, Items: []int64{10, 12, 11}},
		{UserId: 2, Items: []int64{21, 22, 23}},
		// no purchases
		{UserId: 3, Items: []int64{10, 11, 12}},
	}

	score, err := Evaluate(lists, reference, 2)
	assert.NoError(t, err)
	assert.Equal(t, 2, score.Users)
	assert.InDelta(t, 0.25, score.Precision, 1e-9)
	assert.InDelta(t, 0.25, score.Recall, 1e-9)

	score, err = Evaluate(lists, reference, 3)
	assert.NoError(t, err)
	assert.InDelta(t, 1.0/3, score.Precision, 1e-9)
	assert.InDelta(t, 0.5, score.Recall, 1e-9)

	score, err = Evaluate(nil, reference, 3)
	assert.NoError(t, err)
	assert.Zero(t, score)
}

func TestEvaluateInvalid(t *testing.T) {
	_, err := Evaluate(nil, nil, 5)
	assert.True(t, errors.Is(err, base.ErrMissingReference))
	_, err = Evaluate(nil, NewReference(nil), 0)
	assert.True(t, errors.Is(err, errors.NotValid))
}
