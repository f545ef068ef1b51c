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
	"io"

	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/candidates"
	"github.com/gorse-io/retail/dataset"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var candidatesCommand = &cobra.Command{
	Use:   "candidates",
	Short: "Generate candidate lists for users of one or more cohorts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("model")
		cohortPaths, _ := cmd.Flags().GetStringSlice("cohort")
		output, _ := cmd.Flags().GetString("output")
		if cmd.Flags().Changed("num-candidates") {
			globalConfig.Candidates.NumCandidates, _ = cmd.Flags().GetInt("num-candidates")
		}

		var cohorts [][]int64
		for _, path := range cohortPaths {
			transactions, err := loadTransactions(path)
			if err != nil {
				return errors.Trace(err)
			}
			cohorts = append(cohorts, dataset.Users(transactions))
		}
		recommender, err := loadRecommender(cmd.Context(), name)
		if err != nil {
			return errors.Trace(err)
		}
		generator, err := candidates.NewGenerator(recommender, globalConfig.Candidates)
		if err != nil {
			return errors.Trace(err)
		}
		lists, err := generator.Generate(cmd.Context(), cohorts...)
		if err != nil {
			return errors.Trace(err)
		}

		if err = writeFile(output, func(w io.Writer) error {
			return candidates.WriteCSV(w, lists)
		}); err != nil {
			return errors.Annotatef(err, "write candidates to %s", output)
		}
		log.Logger().Info("write candidates",
			zap.String("run_id", runId),
			zap.String("output", output),
			zap.Int("n_users", len(lists)))
		return nil
	},
}

func init() {
	candidatesCommand.Flags().StringP("model", "m", "recommender", "name of the saved recommender")
	candidatesCommand.Flags().StringSlice("cohort", nil, "transaction csv files whose users form the population")
	candidatesCommand.Flags().StringP("output", "o", "candidates.csv", "output csv file")
	candidatesCommand.Flags().IntP("num-candidates", "n", 0, "number of candidates per user, overrides the config")
	_ = candidatesCommand.MarkFlagRequired("cohort")
}
