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
	"math"
	"os"
	"strconv"
	"time"

	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/base/progress"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/recommend"
	"github.com/gorse-io/retail/storage/blob"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var fitCommand = &cobra.Command{
	Use:   "fit",
	Short: "Fit recommenders on transactions and save them to the blob store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		transactionsPath, _ := cmd.Flags().GetString("transactions")
		name, _ := cmd.Flags().GetString("model")
		fromDay, _ := cmd.Flags().GetInt("from-day")
		toDay, _ := cmd.Flags().GetInt("to-day")

		transactions, err := loadTransactions(transactionsPath)
		if err != nil {
			return errors.Trace(err)
		}
		if cmd.Flags().Changed("from-day") || cmd.Flags().Changed("to-day") {
			transactions = dataset.FilterByDay(transactions, fromDay, toDay)
			log.Logger().Info("filter transactions by day",
				zap.Int("from_day", fromDay),
				zap.Int("to_day", toDay),
				zap.Int("n_transactions", len(transactions)))
		}
		if globalConfig.Prefilter.Enable {
			prefilter := &dataset.Prefilter{
				RecentDays:   globalConfig.Prefilter.RecentDays,
				MaxUserShare: globalConfig.Prefilter.MaxUserShare,
				MinUserShare: globalConfig.Prefilter.MinUserShare,
				TopN:         globalConfig.Prefilter.TopN,
				Sentinel:     globalConfig.Matrix.SentinelItemId,
			}
			transactions = prefilter.Apply(transactions)
		}

		start := time.Now()
		ctx, span := progress.NewTracer(runId).Start(cmd.Context(), "fit", len(transactions))
		recommender := recommend.NewMainRecommender(globalConfig)
		if err = recommender.Fit(ctx, transactions); err != nil {
			span.Fail(err)
			return errors.Trace(err)
		}
		span.End()
		store, err := blob.NewStore(globalConfig.Blob)
		if err != nil {
			return errors.Trace(err)
		}
		if err = recommender.Save(cmd.Context(), store, name); err != nil {
			return errors.Trace(err)
		}

		nItems, nUsers := recommender.Shape()
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Run", "Model", "Transactions", "Users", "Items", "Elapsed")
		if err = table.Append([]string{
			runId,
			name,
			strconv.Itoa(len(transactions)),
			strconv.Itoa(nUsers),
			strconv.Itoa(nItems),
			time.Since(start).String(),
		}); err != nil {
			return errors.Trace(err)
		}
		if err = table.Render(); err != nil {
			return errors.Trace(err)
		}

		stages := tablewriter.NewWriter(os.Stdout)
		stages.Header("Stage", "Status", "Progress", "Elapsed")
		for _, stage := range span.Children() {
			if err = stages.Append([]string{
				stage.Name,
				string(stage.Status),
				strconv.Itoa(stage.Count) + "/" + strconv.Itoa(stage.Total),
				stage.FinishTime.Sub(stage.StartTime).String(),
			}); err != nil {
				return errors.Trace(err)
			}
		}
		return errors.Trace(stages.Render())
	},
}

func init() {
	fitCommand.Flags().StringP("transactions", "t", "", "transaction csv file")
	fitCommand.Flags().StringP("model", "m", "recommender", "name of the saved recommender")
	fitCommand.Flags().Int("from-day", 0, "first day of transactions to use")
	fitCommand.Flags().Int("to-day", math.MaxInt32, "day after the last day of transactions to use")
	_ = fitCommand.MarkFlagRequired("transactions")
}
