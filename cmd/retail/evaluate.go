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

	"github.com/gorse-io/retail/candidates"
	"github.com/gorse-io/retail/labels"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var evaluateCommand = &cobra.Command{
	Use:   "evaluate",
	Short: "Score candidates against actual purchases.",
	RunE: func(cmd *cobra.Command, args []string) error {
		candidatesPath, _ := cmd.Flags().GetString("candidates")
		referencePath, _ := cmd.Flags().GetString("reference")
		k, _ := cmd.Flags().GetInt("k")

		file, err := os.Open(candidatesPath)
		if err != nil {
			return errors.Trace(err)
		}
		defer file.Close()
		lists, err := candidates.ReadCSV(file)
		if err != nil {
			return errors.Annotatef(err, "read candidates from %s", candidatesPath)
		}
		reference, err := labels.LoadReference(referencePath)
		if err != nil {
			return errors.Trace(err)
		}
		score, err := labels.Evaluate(lists, reference, k)
		if err != nil {
			return errors.Trace(err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Users", "Precision@"+strconv.Itoa(k), "Recall@"+strconv.Itoa(k))
		if err = table.Append([]string{
			strconv.Itoa(score.Users),
			strconv.FormatFloat(score.Precision, 'f', 4, 64),
			strconv.FormatFloat(score.Recall, 'f', 4, 64),
		}); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(table.Render())
	},
}

func init() {
	evaluateCommand.Flags().String("candidates", "candidates.csv", "candidate csv file")
	evaluateCommand.Flags().String("reference", "", "transaction csv file of the evaluation period")
	evaluateCommand.Flags().Int("k", 5, "number of leading candidates to score")
	_ = evaluateCommand.MarkFlagRequired("reference")
}
