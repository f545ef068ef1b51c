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

	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/candidates"
	"github.com/gorse-io/retail/labels"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var labelsCommand = &cobra.Command{
	Use:   "labels",
	Short: "Label candidates with actual purchases and join features.",
	RunE: func(cmd *cobra.Command, args []string) error {
		candidatesPath, _ := cmd.Flags().GetString("candidates")
		referencePath, _ := cmd.Flags().GetString("reference")
		output, _ := cmd.Flags().GetString("output")

		builder, err := labels.NewBuilder(globalConfig.Labels)
		if err != nil {
			return errors.Trace(err)
		}
		if err = setFeatures(cmd, "item-features", builder.SetItemFeatures, labels.ItemIdColumn); err != nil {
			return errors.Trace(err)
		}
		if err = setFeatures(cmd, "user-features", builder.SetUserFeatures, labels.UserIdColumn); err != nil {
			return errors.Trace(err)
		}
		if err = setFeatures(cmd, "user-item-features", builder.SetUserItemFeatures, labels.UserIdColumn, labels.ItemIdColumn); err != nil {
			return errors.Trace(err)
		}

		candidatesFile, err := os.Open(candidatesPath)
		if err != nil {
			return errors.Trace(err)
		}
		defer candidatesFile.Close()
		lists, err := candidates.ReadCSV(candidatesFile)
		if err != nil {
			return errors.Annotatef(err, "read candidates from %s", candidatesPath)
		}
		var reference *labels.Reference
		if referencePath != "" {
			if reference, err = labels.LoadReference(referencePath); err != nil {
				return errors.Trace(err)
			}
		}
		table, err := builder.Build(cmd.Context(), lists, reference)
		if err != nil {
			return errors.Trace(err)
		}

		if err = writeFile(output, table.WriteCSV); err != nil {
			return errors.Annotatef(err, "write labels to %s", output)
		}
		log.Logger().Info("write labels",
			zap.String("run_id", runId),
			zap.String("output", output),
			zap.Int("n_rows", len(table.Rows)),
			zap.Int("n_positives", table.Positives()))
		return nil
	},
}

func setFeatures(cmd *cobra.Command, flag string, set func(*labels.FeatureTable) error, keys ...string) error {
	path, _ := cmd.Flags().GetString(flag)
	if path == "" {
		return nil
	}
	table, err := labels.LoadFeatureTable(path, keys...)
	if err != nil {
		return errors.Trace(err)
	}
	return set(table)
}

func init() {
	labelsCommand.Flags().String("candidates", "candidates.csv", "candidate csv file")
	labelsCommand.Flags().String("reference", "", "transaction csv file of the labelling period")
	labelsCommand.Flags().String("item-features", "", "item feature csv file")
	labelsCommand.Flags().String("user-features", "", "user feature csv file")
	labelsCommand.Flags().String("user-item-features", "", "user-item feature csv file")
	labelsCommand.Flags().StringP("output", "o", "labels.csv", "output csv file")
}
