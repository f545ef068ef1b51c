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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/gorse-io/retail/base/log"
	"github.com/gorse-io/retail/cmd/version"
	"github.com/gorse-io/retail/config"
	"github.com/gorse-io/retail/dataset"
	"github.com/gorse-io/retail/recommend"
	"github.com/gorse-io/retail/storage/blob"
	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var (
	globalConfig   *config.Config
	tracerProvider *sdktrace.TracerProvider
	runId          string
)

var rootCommand = &cobra.Command{
	Use:   "retail",
	Short: "Candidate generation for two-stage retail recommendation.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// setup logger
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		runId = uuid.NewString()
		// load config
		configPath, _ := cmd.Flags().GetString("config")
		log.Logger().Info("load config", zap.String("config", configPath), zap.String("run_id", runId))
		var err error
		if globalConfig, err = config.LoadConfig(configPath); err != nil {
			return errors.Annotate(err, "failed to load config")
		}
		// setup tracing
		if globalConfig.Tracing.EnableTracing {
			tracerProvider, err = globalConfig.Tracing.NewTracerProvider(cmd.Context(), "retail")
			if err != nil {
				return errors.Annotate(err, "failed to create tracer provider")
			}
			otel.SetTracerProvider(tracerProvider)
			otel.SetErrorHandler(log.GetErrorHandler())
			otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if tracerProvider != nil {
			if err := tracerProvider.Shutdown(context.Background()); err != nil {
				log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
			}
		}
		_ = log.Logger().Sync()
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "retail version")
	rootCommand.AddCommand(fitCommand, candidatesCommand, labelsCommand, evaluateCommand, recommendCommand)
}

// loadTransactions reads a transaction csv file with a progress bar.
func loadTransactions(path string) ([]dataset.Transaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Trace(err)
	}
	reader := progressbar.NewReader(file, progressbar.DefaultBytes(stat.Size(), "Loading "+path))
	transactions, err := dataset.ReadTransactions(bufio.NewScanner(&reader), ",")
	if err != nil {
		return nil, errors.Annotatef(err, "load transactions from %s", path)
	}
	log.Logger().Info("load transactions",
		zap.String("path", path),
		zap.Int("n_transactions", len(transactions)))
	return transactions, nil
}

// writeFile creates path and writes it with write. Errors on close are returned.
func writeFile(path string, write func(w io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	if err = write(file); err != nil {
		_ = file.Close()
		return errors.Trace(err)
	}
	return errors.Trace(file.Close())
}

// loadRecommender reads a fitted recommender from the configured blob store.
func loadRecommender(ctx context.Context, name string) (*recommend.MainRecommender, error) {
	store, err := blob.NewStore(globalConfig.Blob)
	if err != nil {
		return nil, errors.Trace(err)
	}
	recommender := recommend.NewMainRecommender(globalConfig)
	if err = recommender.Load(ctx, store, name); err != nil {
		return nil, errors.Trace(err)
	}
	return recommender, nil
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}
