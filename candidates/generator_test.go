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

package candidates

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/config"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/recommend"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
)

type mockRecommender struct {
	known   mapset.Set[int64]
	popular []int64
	mu      sync.Mutex
	queried []int64
}

func newMockRecommender(known []int64, popular []int64) *mockRecommender {
	return &mockRecommender{known: mapset.NewSet(known...), popular: popular}
}

func (m *mockRecommender) GetRecommendations(userId int64, n int) ([]int64, error) {
	return nil, errors.NotImplementedf("GetRecommendations")
}

func (m *mockRecommender) GetOwnRecommendations(userId int64, n int) ([]int64, error) {
	m.mu.Lock()
	m.queried = append(m.queried, userId)
	m.mu.Unlock()
	return lo.Map(lo.Range(n), func(i, _ int) int64 {
		return userId*100 + int64(i)
	}), nil
}

func (m *mockRecommender) GetSimilarItems(itemId int64, n int) ([]int64, error) {
	return nil, errors.NotImplementedf("GetSimilarItems")
}

func (m *mockRecommender) GetPopularItems(n int) ([]int64, error) {
	if len(m.popular) < n {
		return nil, base.ColdStartf("popular items")
	}
	return m.popular[:n], nil
}

func (m *mockRecommender) IsKnownUser(userId int64) bool {
	return m.known.Contains(userId)
}

func TestPopulation(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3}, Population([]int64{1, 2}, []int64{2, 3}))
	assert.Equal(t, []int64{3, 1, 2}, Population([]int64{3}, []int64{1, 3}, []int64{2, 1}))
	assert.Empty(t, Population())
}

func TestGenerate(t *testing.T) {
	recommender := newMockRecommender([]int64{1, 2}, []int64{7, 8, 9})
	generator, err := NewGenerator(recommender, config.CandidatesConfig{NumCandidates: 3, Jobs: 4})
	assert.NoError(t, err)
	lists, err := generator.Generate(context.Background(), []int64{1, 2}, []int64{2, 3})
	assert.NoError(t, err)
	assert.Equal(t, []CandidateList{
		{UserId: 1, Items: []int64{100, 101, 102}},
		{UserId: 2, Items: []int64{200, 201, 202}},
		{UserId: 3, Items: []int64{7, 8, 9}},
	}, lists)
	// new users never reach the model
	assert.ElementsMatch(t, []int64{1, 2}, recommender.queried)
}

func TestGenerateAllKnown(t *testing.T) {
	// popularity is not consulted without new users
	recommender := newMockRecommender([]int64{1, 2}, nil)
	generator, err := NewGenerator(recommender, config.CandidatesConfig{NumCandidates: 2, Jobs: 1})
	assert.NoError(t, err)
	lists, err := generator.Generate(context.Background(), []int64{2, 1})
	assert.NoError(t, err)
	assert.Len(t, lists, 2)
	assert.Equal(t, int64(2), lists[0].UserId)
}

func TestGenerateColdStart(t *testing.T) {
	recommender := newMockRecommender(nil, []int64{7})
	generator, err := NewGenerator(recommender, config.CandidatesConfig{NumCandidates: 2, Jobs: 1})
	assert.NoError(t, err)
	_, err = generator.Generate(context.Background(), []int64{1})
	assert.True(t, errors.Is(err, base.ErrColdStart))
}

func TestGenerateInvalid(t *testing.T) {
	_, err := NewGenerator(newMockRecommender(nil, nil), config.CandidatesConfig{NumCandidates: 0})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestGenerateCancel(t *testing.T) {
	recommender := newMockRecommender([]int64{1, 2, 3}, nil)
	generator, err := NewGenerator(recommender, config.CandidatesConfig{NumCandidates: 2, Jobs: 1})
	assert.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = generator.Generate(ctx, []int64{1, 2, 3})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerateWithRecommender(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.ALS.NFactors = 4
	cfg.ALS.NEpochs = 5
	cfg.Candidates.NumCandidates = 3
	var transactions []dataset.Transaction
	for userId := int64(1); userId <= 4; userId++ {
		for itemId := int64(10); itemId < 10+userId; itemId++ {
			transactions = append(transactions, dataset.Transaction{UserId: userId, ItemId: itemId, Quantity: 1})
		}
	}
	recommender := recommend.NewMainRecommender(cfg)
	assert.NoError(t, recommender.Fit(context.Background(), transactions))
	generator, err := NewGenerator(recommender, cfg.Candidates)
	assert.NoError(t, err)
	lists, err := generator.Generate(context.Background(), []int64{1, 2, 3}, []int64{3, 4, 5}, []int64{5, 6})
	assert.NoError(t, err)
	assert.Len(t, lists, 6)
	for _, list := range lists {
		assert.Len(t, list.Items, 3)
		assert.Len(t, lo.Uniq(list.Items), 3)
	}
	// new users get the head of the popularity ranking
	assert.Equal(t, []int64{10, 11, 12}, lists[4].Items)
	assert.Equal(t, []int64{10, 11, 12}, lists[5].Items)
}

func TestCSV(t *testing.T) {
	lists := []CandidateList{
		{UserId: 1, Items: []int64{100, 101}},
		{UserId: 2, Items: []int64{7, 8}},
	}
	var buf bytes.Buffer
	assert.NoError(t, WriteCSV(&buf, lists))
	assert.Equal(t, "user_id,candidates\n1,100 101\n2,7 8\n", buf.String())
	read, err := ReadCSV(&buf)
	assert.NoError(t, err)
	assert.Equal(t, lists, read)

	_, err = ReadCSV(strings.NewReader("user_id,candidates\n1,100 101\n2,7\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
	_, err = ReadCSV(strings.NewReader("user,candidates\n1,100\n"))
	assert.True(t, errors.Is(err, errors.NotFound))
}
