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

package recommend

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/gorse-io/retail/base"
	"github.com/gorse-io/retail/config"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/storage/blob"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

func newTestConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.ALS.NFactors = 4
	cfg.ALS.NEpochs = 20
	cfg.ALS.Reg = 0.01
	cfg.ALS.Weight = 0.1
	cfg.ALS.InitStdDev = 0.1
	cfg.ALS.Jobs = 2
	cfg.OwnItems.Jobs = 2
	return cfg
}

// two clusters of five users, user 1 never bought item 102
func clusterTransactions() []dataset.Transaction {
	var transactions []dataset.Transaction
	for userId := int64(1); userId <= 5; userId++ {
		for _, itemId := range []int64{100, 101, 102} {
			if userId != 1 || itemId != 102 {
				transactions = append(transactions, dataset.Transaction{UserId: userId, ItemId: itemId, Quantity: 1})
			}
		}
	}
	for userId := int64(6); userId <= 10; userId++ {
		for _, itemId := range []int64{200, 201, 202} {
			transactions = append(transactions, dataset.Transaction{UserId: userId, ItemId: itemId, Quantity: 1})
		}
	}
	return transactions
}

type RecommenderTestSuite struct {
	suite.Suite
	recommender *MainRecommender
}

func (suite *RecommenderTestSuite) SetupTest() {
	suite.recommender = NewMainRecommender(newTestConfig())
	err := suite.recommender.Fit(context.Background(), clusterTransactions())
	suite.NoError(err)
}

func (suite *RecommenderTestSuite) TestFixedWidth() {
	users := []int64{1, 3, 6, 10, 42, 43}
	type query func(int64, int) ([]int64, error)
	queries := map[string]query{
		"recommend":               suite.recommender.GetRecommendations,
		"own":                     suite.recommender.GetOwnRecommendations,
		"similar_items_recommend": suite.recommender.GetSimilarItemsRecommendations,
		"similar_users_recommend": suite.recommender.GetSimilarUsersRecommendations,
	}
	for name, q := range queries {
		for _, userId := range users {
			for _, n := range []int{1, 3, 6} {
				items, err := q(userId, n)
				suite.NoError(err, name)
				suite.Len(items, n, name)
				suite.Len(lo.Uniq(items), n, name)
			}
		}
	}
}

func (suite *RecommenderTestSuite) TestInvalidN() {
	_, err := suite.recommender.GetRecommendations(1, 0)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = suite.recommender.GetOwnRecommendations(1, -1)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = suite.recommender.GetSimilarItems(100, 0)
	suite.True(errors.Is(err, errors.NotValid))
	_, err = suite.recommender.GetPopularItems(0)
	suite.True(errors.Is(err, errors.NotValid))
}

func (suite *RecommenderTestSuite) TestCatalogTooSmall() {
	_, err := suite.recommender.GetRecommendations(1, 7)
	suite.True(errors.Is(err, base.ErrColdStart))
	_, err = suite.recommender.GetPopularItems(7)
	suite.True(errors.Is(err, base.ErrColdStart))
}

func (suite *RecommenderTestSuite) TestColdStartUser() {
	popular, err := suite.recommender.GetPopularItems(4)
	suite.NoError(err)
	suite.False(suite.recommender.IsKnownUser(42))
	items, err := suite.recommender.GetRecommendations(42, 4)
	suite.NoError(err)
	suite.Equal(popular, items)
	items, err = suite.recommender.GetOwnRecommendations(42, 4)
	suite.NoError(err)
	suite.Equal(popular, items)
	// registered by the query but still unknown to the models
	suite.True(suite.recommender.index.Contains(42, dataset.UserSpace))
	suite.False(suite.recommender.IsKnownUser(42))
}

func (suite *RecommenderTestSuite) TestPopularItems() {
	items, err := suite.recommender.GetPopularItems(6)
	suite.NoError(err)
	// 102 is bought by four users, ties keep first appearance
	suite.Equal([]int64{100, 101, 200, 201, 202, 102}, items)
}

func (suite *RecommenderTestSuite) TestRecommendations() {
	suite.True(suite.recommender.IsKnownUser(1))
	items, err := suite.recommender.GetRecommendations(1, 3)
	suite.NoError(err)
	suite.ElementsMatch([]int64{100, 101, 102}, items)
	items, err = suite.recommender.GetRecommendations(7, 3)
	suite.NoError(err)
	suite.ElementsMatch([]int64{200, 201, 202}, items)
}

func (suite *RecommenderTestSuite) TestFilterLikedItems() {
	cfg := newTestConfig()
	cfg.Recommend.FilterLikedItems = true
	recommender := NewMainRecommender(cfg)
	suite.NoError(recommender.Fit(context.Background(), clusterTransactions()))
	items, err := recommender.GetRecommendations(1, 1)
	suite.NoError(err)
	suite.Equal([]int64{102}, items)
}

func (suite *RecommenderTestSuite) TestOwnRecommendations() {
	items, err := suite.recommender.GetOwnRecommendations(1, 3)
	suite.NoError(err)
	suite.Contains([]int64{100, 101}, items[0])
}

func (suite *RecommenderTestSuite) TestSimilarItems() {
	items, err := suite.recommender.GetSimilarItems(100, 5)
	suite.NoError(err)
	suite.Len(items, 5)
	suite.NotContains(items, int64(100))
	suite.ElementsMatch([]int64{101, 102}, items[:2])
	// unknown items are not registered
	_, err = suite.recommender.GetSimilarItems(12345, 1)
	suite.True(errors.Is(err, errors.NotValid))
	suite.False(suite.recommender.index.Contains(12345, dataset.ItemSpace))
}

func (suite *RecommenderTestSuite) TestSaveLoad() {
	ctx := context.Background()
	store := blob.NewPOSIX(suite.T().TempDir())
	suite.NoError(suite.recommender.Save(ctx, store, "recommender"))
	loaded := NewMainRecommender(newTestConfig())
	suite.NoError(loaded.Load(ctx, store, "recommender"))
	for userId := int64(1); userId <= 12; userId++ {
		expected, err := suite.recommender.GetRecommendations(userId, 5)
		suite.NoError(err)
		actual, err := loaded.GetRecommendations(userId, 5)
		suite.NoError(err)
		suite.Equal(expected, actual)
		expected, err = suite.recommender.GetOwnRecommendations(userId, 5)
		suite.NoError(err)
		actual, err = loaded.GetOwnRecommendations(userId, 5)
		suite.NoError(err)
		suite.Equal(expected, actual)
		suite.Equal(suite.recommender.IsKnownUser(userId), loaded.IsKnownUser(userId))
	}
	expected, err := suite.recommender.GetSimilarItems(201, 4)
	suite.NoError(err)
	actual, err := loaded.GetSimilarItems(201, 4)
	suite.NoError(err)
	suite.Equal(expected, actual)

	// missing artifact
	err = loaded.Load(ctx, store, "missing")
	suite.True(errors.Is(err, errors.NotFound))
}

func (suite *RecommenderTestSuite) TestConcurrentRegistration() {
	popular, err := suite.recommender.GetPopularItems(2)
	suite.NoError(err)
	before := suite.recommender.index.Count(dataset.UserSpace)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		userId := int64(1000 + i%50)
		wg.Go(func() {
			items, err := suite.recommender.GetRecommendations(userId, 2)
			assert.NoError(suite.T(), err)
			assert.Equal(suite.T(), popular, items)
		})
	}
	wg.Wait()
	suite.Equal(before+50, suite.recommender.index.Count(dataset.UserSpace))
	for i := 0; i < 50; i++ {
		userIndex, err := suite.recommender.index.ToIndex(int64(1000+i), dataset.UserSpace)
		suite.NoError(err)
		suite.GreaterOrEqual(int(userIndex), before)
	}
}

func (suite *RecommenderTestSuite) TestTopOwnItem() {
	// a fitted user contributes one of its own items
	userIndex, err := suite.recommender.index.ToIndex(3, dataset.UserSpace)
	suite.NoError(err)
	top, err := suite.recommender.topOwnItem(userIndex)
	suite.NoError(err)
	suite.Len(top, 1)
	items, _ := suite.recommender.matrix.UserColumn(userIndex)
	suite.Contains(items, top[0])

	// a user without a column contributes the most popular item
	newIndex := suite.recommender.index.Register(42, dataset.UserSpace)
	top, err = suite.recommender.topOwnItem(newIndex)
	suite.NoError(err)
	suite.Len(top, 1)
	itemId, err := suite.recommender.index.ToRaw(top[0], dataset.ItemSpace)
	suite.NoError(err)
	suite.Equal(suite.recommender.popularity[0], itemId)
}

func TestRecommender(t *testing.T) {
	suite.Run(t, new(RecommenderTestSuite))
}

func TestRecommenderScenario(t *testing.T) {
	recommender := NewMainRecommender(newTestConfig())
	err := recommender.Fit(context.Background(), []dataset.Transaction{
		{UserId: 1, ItemId: 10, Quantity: 2},
		{UserId: 1, ItemId: 11, Quantity: 1},
		{UserId: 2, ItemId: 10, Quantity: 5},
	})
	assert.NoError(t, err)
	items, err := recommender.GetRecommendations(1, 2)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []int64{10, 11}, items)
	items, err = recommender.GetRecommendations(3, 2)
	assert.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, items)
	items, err = recommender.GetSimilarItems(10, 1)
	assert.NoError(t, err)
	assert.Equal(t, []int64{11}, items)
}

func TestRecommenderSentinel(t *testing.T) {
	transactions := append(clusterTransactions(),
		dataset.Transaction{UserId: 6, ItemId: 999999},
		dataset.Transaction{UserId: 7, ItemId: 999999},
		dataset.Transaction{UserId: 8, ItemId: 999999})
	recommender := NewMainRecommender(newTestConfig())
	assert.NoError(t, recommender.Fit(context.Background(), transactions))
	// the sentinel has a column in the matrix but never appears in popularity
	popular, err := recommender.GetPopularItems(6)
	assert.NoError(t, err)
	assert.NotContains(t, popular, int64(999999))
	_, err = recommender.GetPopularItems(7)
	assert.True(t, errors.Is(err, base.ErrColdStart))
	items, err := recommender.GetSimilarItemsRecommendations(6, 3)
	assert.NoError(t, err)
	assert.Len(t, lo.Uniq(items), 3)
}

func TestRecommenderEmpty(t *testing.T) {
	// unfitted
	recommender := NewMainRecommender(newTestConfig())
	_, err := recommender.GetRecommendations(1, 1)
	assert.True(t, errors.Is(err, base.ErrColdStart))
	assert.False(t, recommender.IsKnownUser(1))
	// fitted on nothing
	assert.NoError(t, recommender.Fit(context.Background(), nil))
	_, err = recommender.GetOwnRecommendations(1, 1)
	assert.True(t, errors.Is(err, base.ErrColdStart))
	_, err = recommender.GetPopularItems(1)
	assert.True(t, errors.Is(err, base.ErrColdStart))
	// empty artifacts round trip
	store := blob.NewPOSIX(t.TempDir())
	assert.NoError(t, recommender.Save(context.Background(), store, "empty"))
	loaded := NewMainRecommender(newTestConfig())
	assert.NoError(t, loaded.Load(context.Background(), store, "empty"))
	assert.False(t, loaded.IsKnownUser(1))
}

func TestRecommenderInvalidConfig(t *testing.T) {
	cfg := newTestConfig()
	cfg.Matrix.BM25B = 2
	err := NewMainRecommender(cfg).Fit(context.Background(), clusterTransactions())
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestRecommenderShapeMismatch(t *testing.T) {
	recommender := NewMainRecommender(newTestConfig())
	assert.NoError(t, recommender.Fit(context.Background(), clusterTransactions()))
	recommender.als.UserFactor = recommender.als.UserFactor[:1]
	var buf bytes.Buffer
	assert.NoError(t, recommender.Marshal(&buf))
	err := NewMainRecommender(newTestConfig()).Unmarshal(&buf)
	assert.True(t, errors.Is(err, base.ErrShapeMismatch), err)
}
