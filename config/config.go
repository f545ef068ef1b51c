// Copyright 2021 gorse Project Authors
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

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/gorse-io/retail/model"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

// Config is the configuration of a candidate generation run.
type Config struct {
	Prefilter  PrefilterConfig  `mapstructure:"prefilter"`
	Matrix     MatrixConfig     `mapstructure:"matrix"`
	ALS        ALSConfig        `mapstructure:"als"`
	OwnItems   OwnItemsConfig   `mapstructure:"own_items"`
	Recommend  RecommendConfig  `mapstructure:"recommend"`
	Candidates CandidatesConfig `mapstructure:"candidates"`
	Labels     LabelsConfig     `mapstructure:"labels"`
	Blob       BlobConfig       `mapstructure:"blob"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrefilterConfig narrows the catalog before fitting.
type PrefilterConfig struct {
	Enable       bool    `mapstructure:"enable"`
	RecentDays   int     `mapstructure:"recent_days" validate:"gte=0"`
	MaxUserShare float64 `mapstructure:"max_user_share" validate:"gte=0,lte=1"`
	MinUserShare float64 `mapstructure:"min_user_share" validate:"gte=0,lte=1"`
	TopN         int     `mapstructure:"top_n" validate:"gte=0"`
}

// MatrixConfig controls the interaction matrix and its BM25 weighting.
type MatrixConfig struct {
	BM25K1         float64 `mapstructure:"bm25_k1" validate:"gte=0"`
	BM25B          float64 `mapstructure:"bm25_b" validate:"gte=0,lte=1"`
	SentinelItemId int64   `mapstructure:"sentinel_item_id"`
}

// ALSConfig holds hyper-parameters of the latent factor model.
type ALSConfig struct {
	NFactors    int     `mapstructure:"n_factors" validate:"gt=0"`
	Reg         float64 `mapstructure:"reg" validate:"gte=0"`
	NEpochs     int     `mapstructure:"n_epochs" validate:"gte=0"`
	Alpha       float64 `mapstructure:"alpha" validate:"gte=0"`
	Weight      float64 `mapstructure:"weight" validate:"gte=0"`
	InitStdDev  float64 `mapstructure:"init_std" validate:"gte=0"`
	RandomState int64   `mapstructure:"random_state"`
	Jobs        int     `mapstructure:"jobs" validate:"gt=0"`
}

func (c *ALSConfig) GetParams() model.Params {
	return model.Params{
		model.NFactors:    c.NFactors,
		model.Reg:         c.Reg,
		model.NEpochs:     c.NEpochs,
		model.Alpha:       c.Alpha,
		model.Weight:      c.Weight,
		model.InitStdDev:  c.InitStdDev,
		model.RandomState: c.RandomState,
	}
}

// OwnItemsConfig holds hyper-parameters of the own-items neighbor model.
type OwnItemsConfig struct {
	K    int `mapstructure:"k" validate:"gt=0"`
	Jobs int `mapstructure:"jobs" validate:"gt=0"`
}

func (c *OwnItemsConfig) GetParams() model.Params {
	return model.Params{
		model.NNeighbors: c.K,
	}
}

type RecommendConfig struct {
	FilterLikedItems bool `mapstructure:"filter_liked_items"`
}

type CandidatesConfig struct {
	NumCandidates int `mapstructure:"num_candidates" validate:"gt=0"`
	Jobs          int `mapstructure:"jobs" validate:"gt=0"`
}

type LabelsConfig struct {
	FillValue       float64                `mapstructure:"fill_value"`
	DerivedFeatures []DerivedFeatureConfig `mapstructure:"derived_features" validate:"dive"`
}

// DerivedFeatureConfig appends a feature column computed by an expression over the
// columns of each row.
type DerivedFeatureConfig struct {
	Name string `mapstructure:"name" validate:"required"`
	Expr string `mapstructure:"expr" validate:"required"`
}

type BlobConfig struct {
	Type  string          `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir   string          `mapstructure:"dir"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type AzureBlobConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Prefilter: PrefilterConfig{
			RecentDays:   365,
			MaxUserShare: 0.2,
			MinUserShare: 0.02,
			TopN:         2500,
		},
		Matrix: MatrixConfig{
			BM25K1:         100,
			BM25B:          0.8,
			SentinelItemId: 999999,
		},
		ALS: ALSConfig{
			NFactors:   20,
			Reg:        0.001,
			NEpochs:    15,
			Alpha:      1,
			Weight:     0.001,
			InitStdDev: 0.01,
			Jobs:       4,
		},
		OwnItems: OwnItemsConfig{
			K:    1,
			Jobs: 4,
		},
		Candidates: CandidatesConfig{
			NumCandidates: 300,
			Jobs:          4,
		},
		Blob: BlobConfig{
			Type: "posix",
			Dir:  "artifacts",
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [prefilter]
	v.SetDefault("prefilter.enable", defaultConfig.Prefilter.Enable)
	v.SetDefault("prefilter.recent_days", defaultConfig.Prefilter.RecentDays)
	v.SetDefault("prefilter.max_user_share", defaultConfig.Prefilter.MaxUserShare)
	v.SetDefault("prefilter.min_user_share", defaultConfig.Prefilter.MinUserShare)
	v.SetDefault("prefilter.top_n", defaultConfig.Prefilter.TopN)
	// [matrix]
	v.SetDefault("matrix.bm25_k1", defaultConfig.Matrix.BM25K1)
	v.SetDefault("matrix.bm25_b", defaultConfig.Matrix.BM25B)
	v.SetDefault("matrix.sentinel_item_id", defaultConfig.Matrix.SentinelItemId)
	// [als]
	v.SetDefault("als.n_factors", defaultConfig.ALS.NFactors)
	v.SetDefault("als.reg", defaultConfig.ALS.Reg)
	v.SetDefault("als.n_epochs", defaultConfig.ALS.NEpochs)
	v.SetDefault("als.alpha", defaultConfig.ALS.Alpha)
	v.SetDefault("als.weight", defaultConfig.ALS.Weight)
	v.SetDefault("als.init_std", defaultConfig.ALS.InitStdDev)
	v.SetDefault("als.random_state", defaultConfig.ALS.RandomState)
	v.SetDefault("als.jobs", defaultConfig.ALS.Jobs)
	// [own_items]
	v.SetDefault("own_items.k", defaultConfig.OwnItems.K)
	v.SetDefault("own_items.jobs", defaultConfig.OwnItems.Jobs)
	// [recommend]
	v.SetDefault("recommend.filter_liked_items", defaultConfig.Recommend.FilterLikedItems)
	// [candidates]
	v.SetDefault("candidates.num_candidates", defaultConfig.Candidates.NumCandidates)
	v.SetDefault("candidates.jobs", defaultConfig.Candidates.Jobs)
	// [labels]
	v.SetDefault("labels.fill_value", defaultConfig.Labels.FillValue)
	// [blob]
	v.SetDefault("blob.type", defaultConfig.Blob.Type)
	v.SetDefault("blob.dir", defaultConfig.Blob.Dir)
	v.SetDefault("blob.s3.endpoint", "")
	v.SetDefault("blob.s3.access_key_id", "")
	v.SetDefault("blob.s3.secret_access_key", "")
	v.SetDefault("blob.s3.bucket", "")
	v.SetDefault("blob.s3.prefix", "")
	v.SetDefault("blob.s3.use_ssl", false)
	v.SetDefault("blob.gcs.bucket", "")
	v.SetDefault("blob.gcs.prefix", "")
	v.SetDefault("blob.gcs.credentials_file", "")
	v.SetDefault("blob.azure.account_name", "")
	v.SetDefault("blob.azure.account_key", "")
	v.SetDefault("blob.azure.connection_string", "")
	v.SetDefault("blob.azure.endpoint", "")
	v.SetDefault("blob.azure.container", "")
	v.SetDefault("blob.azure.prefix", "")
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// newViper creates a viper instance with defaults and RETAIL_* environment bindings.
func newViper() *viper.Viper {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("retail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var conf Config
	if err := v.Unmarshal(&conf, func(dc *mapstructure.DecoderConfig) {
		dc.ErrorUnused = true
	}); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// LoadConfig loads configuration from a toml file. Missing keys take default values and
// RETAIL_<SECTION>_<KEY> environment variables override the file.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	return unmarshal(v)
}

// Validate checks value ranges of the configuration.
func (config *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}
