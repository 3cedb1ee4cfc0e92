package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tkubica12/scalable-ai-chat/internal/bus"
	"github.com/tkubica12/scalable-ai-chat/internal/cache"
	"github.com/tkubica12/scalable-ai-chat/internal/config"
	"github.com/tkubica12/scalable-ai-chat/internal/engine"
	"github.com/tkubica12/scalable-ai-chat/internal/llm/providers"
	"github.com/tkubica12/scalable-ai-chat/internal/llmworker"
	"github.com/tkubica12/scalable-ai-chat/internal/memoryapi"
	"github.com/tkubica12/scalable-ai-chat/internal/observability"
)

const drainTimeout = 240 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("llmworker")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	baseCtx := context.Background()
	brokers := cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		return fmt.Errorf("no Kafka brokers configured")
	}

	shutdown, err := observability.InitOTel(baseCtx, cfg.Obs)
	if err != nil {
		log.Warn().Err(err).Msg("otel_init_failed_continuing_without_observability")
		shutdown = nil
	}
	if shutdown != nil {
		defer func() { _ = shutdown(context.Background()) }()
	}

	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 7 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   7 * time.Second,
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   50,
		MaxConnsPerHost:       200,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	httpClient := observability.NewHTTPClient(&http.Client{Transport: tr})

	llmProvider, err := providers.New(cfg.LLM, httpClient)
	if err != nil {
		return fmt.Errorf("init llm provider: %w", err)
	}

	memClient := memoryapi.New(cfg.MemoryAPI, httpClient)

	cacheStore, err := cache.NewRedisStore(cfg.Redis)
	if err != nil {
		return fmt.Errorf("init redis cache: %w", err)
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			log.Error().Err(err).Msg("error_closing_redis_cache")
		}
	}()

	ctxAdmin, cancelAdmin := context.WithTimeout(baseCtx, 5*time.Second)
	if err := bus.CheckBrokers(ctxAdmin, brokers, 3*time.Second); err != nil {
		cancelAdmin()
		return fmt.Errorf("reach kafka brokers: %w", err)
	}
	topics := []string{cfg.Kafka.UserMessagesTopic, cfg.Kafka.TokenStreamsTopic, cfg.Kafka.MessageCompletedTopic}
	if err := bus.EnsureTopics(ctxAdmin, brokers, topics, 1, 1); err != nil {
		cancelAdmin()
		return fmt.Errorf("ensure kafka topics: %w", err)
	}
	cancelAdmin()

	receiver := bus.NewKafkaReceiver(brokers, cfg.Kafka.UserMessagesGroup, cfg.Kafka.UserMessagesTopic)
	defer func() {
		if err := receiver.Close(); err != nil {
			log.Error().Err(err).Msg("error_closing_kafka_receiver")
		}
	}()

	tokenPublisher := bus.NewKafkaPublisher(brokers, cfg.Kafka.TokenStreamsTopic)
	defer func() {
		if err := tokenPublisher.Close(); err != nil {
			log.Error().Err(err).Msg("error_closing_token_publisher")
		}
	}()

	completionPublisher := bus.NewKafkaPublisher(brokers, cfg.Kafka.MessageCompletedTopic)
	defer func() {
		if err := completionPublisher.Close(); err != nil {
			log.Error().Err(err).Msg("error_closing_completion_publisher")
		}
	}()

	svc := &llmworker.Service{
		LLM:          llmProvider,
		Cache:        cacheStore,
		Tokens:       tokenPublisher,
		Completions:  completionPublisher,
		MemoryAPI:    memClient,
		ToolMaxDepth: cfg.LLM.ToolLoopMaxDepth,
	}

	pump := &engine.Pump{
		Receiver:       receiver,
		Handler:        svc.Handle,
		MaxConcurrency: cfg.MaxConcurrency,
		DrainTimeout:   drainTimeout,
		Name:           "llmworker",
	}

	ctx, cancel := signal.NotifyContext(baseCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Strs("brokers", brokers).
		Str("topic", cfg.Kafka.UserMessagesTopic).
		Str("group", cfg.Kafka.UserMessagesGroup).
		Int("max_concurrency", cfg.MaxConcurrency).
		Msg("llmworker_starting")

	if err := pump.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("pump terminated: %w", err)
	}

	log.Info().Msg("llmworker_stopped")
	return nil
}
