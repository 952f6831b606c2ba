package exporters

import (
	"context"
	"strings"
	"time"

	"staking-controlplane/pkg/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
)

// Provide returns the span exporter for OTEL.ADDR: OTLP/HTTP for http(s)
// URLs, OTLP/gRPC otherwise. It returns nil when no collector is configured.
func Provide(cfg *config.Config) (*otlptrace.Exporter, error) {
	addr := cfg.Otel.Addr
	switch {
	case addr == "":
		return nil, nil
	case strings.HasPrefix(addr, "http://"), strings.HasPrefix(addr, "https://"):
		return ProvideHttp(cfg)
	default:
		return ProvideGrpc(cfg)
	}
}

func ProvideGrpc(cfg *config.Config) (*otlptrace.Exporter, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithCompressor("gzip"),
		otlptracegrpc.WithEndpoint(cfg.Otel.Addr),
		otlptracegrpc.WithInsecure(),
	)

	return otlptrace.New(ctx, client)
}
