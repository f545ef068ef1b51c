// Copyright 2022 gorse Project Authors
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
	"context"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

// NewTracerProvider creates a tracer provider exporting spans of the named service.
func (config *TracingConfig) NewTracerProvider(ctx context.Context, service string) (*sdktrace.TracerProvider, error) {
	exporter, err := config.newExporter(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	sampler, err := config.newSampler()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", service))),
	), nil
}

func (config *TracingConfig) newExporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	switch config.Exporter {
	case "otlp":
		var opts []otlptracegrpc.Option
		if config.CollectorEndpoint != "" {
			opts = append(opts, otlptracegrpc.WithEndpoint(config.CollectorEndpoint), otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(opts...))
	case "otlphttp":
		var opts []otlptracehttp.Option
		if config.CollectorEndpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(config.CollectorEndpoint), otlptracehttp.WithInsecure())
		}
		return otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	case "zipkin":
		return zipkin.New(config.CollectorEndpoint)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
}

func (config *TracingConfig) newSampler() (sdktrace.Sampler, error) {
	switch config.Sampler {
	case "always":
		return sdktrace.AlwaysSample(), nil
	case "never":
		return sdktrace.NeverSample(), nil
	case "ratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.Ratio)), nil
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}
}
