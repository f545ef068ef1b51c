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

package main

import (
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var recommendCommand = &cobra.Command{
	Use:   "recommend",
	Short: "Query a saved recommender.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("model")
		method, _ := cmd.Flags().GetString("method")
		id, _ := cmd.Flags().GetInt64("id")
		n, _ := cmd.Flags().GetInt("n")

		recommender, err := loadRecommender(cmd.Context(), name)
		if err != nil {
			return errors.Trace(err)
		}
		var items []int64
		switch method {
		case "recommend":
			items, err = recommender.GetRecommendations(id, n)
		case "own":
			items, err = recommender.GetOwnRecommendations(id, n)
		case "similar-items":
			items, err = recommender.GetSimilarItems(id, n)
		case "similar-items-recommend":
			items, err = recommender.GetSimilarItemsRecommendations(id, n)
		case "similar-users-recommend":
			items, err = recommender.GetSimilarUsersRecommendations(id, n)
		case "popular":
			items, err = recommender.GetPopularItems(n)
		default:
			return errors.NotSupportedf("method %s", method)
		}
		if err != nil {
			return errors.Trace(err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("#", "Item")
		for i, itemId := range items {
			if err = table.Append([]string{strconv.Itoa(i + 1), strconv.FormatInt(itemId, 10)}); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(table.Render())
	},
}

func init() {
	recommendCommand.Flags().StringP("model", "m", "recommender", "name of the saved recommender")
	recommendCommand.Flags().String("method", "recommend", "recommend, own, similar-items, similar-items-recommend, similar-users-recommend or popular")
	recommendCommand.Flags().Int64("id", 0, "user id, or item id for similar-items")
	recommendCommand.Flags().Int("n", 10, "number of items")
}
