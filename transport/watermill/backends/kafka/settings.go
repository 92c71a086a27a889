package kafka

import (
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"github.com/shortlink-org/correlation/config"
)

type settings struct {
	brokers        []string
	consumerGroup  string
	clientID       string
	initialOffset  int64
	rebalance      sarama.BalanceStrategy
	version        sarama.KafkaVersion
	compression    sarama.CompressionCodec
	retryMax       int
	idempotent     bool
	nackSleep      time.Duration
	reconnectSleep time.Duration
}

func loadSettings(cfg *config.Config) (*settings, error) {
	cfg.SetDefault("CORRELATION_KAFKA_BROKERS", "localhost:9092")
	cfg.SetDefault("CORRELATION_KAFKA_CONSUMER_INITIAL_OFFSET", "latest")
	cfg.SetDefault("CORRELATION_KAFKA_REBALANCE_STRATEGY", "range")
	cfg.SetDefault("CORRELATION_KAFKA_SARAMA_VERSION", "default")
	cfg.SetDefault("CORRELATION_KAFKA_PRODUCER_COMPRESSION", "snappy")
	cfg.SetDefault("CORRELATION_KAFKA_PRODUCER_RETRY_MAX", 10)
	cfg.SetDefault("CORRELATION_KAFKA_PRODUCER_IDEMPOTENT", true)
	cfg.SetDefault("CORRELATION_KAFKA_SUBSCRIBER_NACK_SLEEP", "100ms")
	cfg.SetDefault("CORRELATION_KAFKA_SUBSCRIBER_RECONNECT_SLEEP", "1s")

	brokers := splitList(cfg.GetStringSlice("CORRELATION_KAFKA_BROKERS"))
	if len(brokers) == 0 {
		return nil, fmt.Errorf("CORRELATION_KAFKA_BROKERS must not be empty")
	}

	// Each instance needs its own group: replies are addressed to the
	// process that registered the pending entry.
	group := firstNonEmpty(cfg.GetString("CORRELATION_KAFKA_CONSUMER_GROUP"), cfg.GetString("SERVICE_NAME"), "correlation")

	offset, err := parseInitialOffset(cfg.GetString("CORRELATION_KAFKA_CONSUMER_INITIAL_OFFSET"))
	if err != nil {
		return nil, err
	}

	rebalance, err := parseRebalanceStrategy(cfg.GetString("CORRELATION_KAFKA_REBALANCE_STRATEGY"))
	if err != nil {
		return nil, err
	}

	version, err := parseKafkaVersion(cfg.GetString("CORRELATION_KAFKA_SARAMA_VERSION"))
	if err != nil {
		return nil, err
	}

	compression, err := parseCompressionCodec(cfg.GetString("CORRELATION_KAFKA_PRODUCER_COMPRESSION"))
	if err != nil {
		return nil, err
	}

	return &settings{
		brokers:        brokers,
		consumerGroup:  group,
		clientID:       firstNonEmpty(cfg.GetString("CORRELATION_KAFKA_CLIENT_ID"), group),
		initialOffset:  offset,
		rebalance:      rebalance,
		version:        version,
		compression:    compression,
		retryMax:       cfg.GetInt("CORRELATION_KAFKA_PRODUCER_RETRY_MAX"),
		idempotent:     cfg.GetBool("CORRELATION_KAFKA_PRODUCER_IDEMPOTENT"),
		nackSleep:      cfg.GetDuration("CORRELATION_KAFKA_SUBSCRIBER_NACK_SLEEP"),
		reconnectSleep: cfg.GetDuration("CORRELATION_KAFKA_SUBSCRIBER_RECONNECT_SLEEP"),
	}, nil
}

func (s *settings) publisherSarama(base *sarama.Config) *sarama.Config {
	base.ClientID = s.clientID
	base.Version = s.version
	base.Producer.Retry.Max = s.retryMax
	base.Producer.RequiredAcks = sarama.WaitForAll
	base.Producer.Idempotent = s.idempotent
	base.Producer.Compression = s.compression

	if s.idempotent {
		base.Net.MaxOpenRequests = 1
	}

	return base
}

func (s *settings) subscriberSarama(base *sarama.Config) *sarama.Config {
	base.ClientID = s.clientID
	base.Version = s.version
	base.Consumer.Offsets.Initial = s.initialOffset
	base.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{s.rebalance}

	return base
}

func splitList(values []string) []string {
	result := make([]string, 0, len(values))

	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				result = append(result, part)
			}
		}
	}

	return result
}

func parseInitialOffset(raw string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "latest", "newest":
		return sarama.OffsetNewest, nil
	case "oldest", "earliest":
		return sarama.OffsetOldest, nil
	default:
		return 0, fmt.Errorf("unsupported CORRELATION_KAFKA_CONSUMER_INITIAL_OFFSET: %s", raw)
	}
}

func parseRebalanceStrategy(raw string) (sarama.BalanceStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "range":
		return sarama.NewBalanceStrategyRange(), nil
	case "roundrobin", "round_robin":
		return sarama.NewBalanceStrategyRoundRobin(), nil
	case "sticky":
		return sarama.NewBalanceStrategySticky(), nil
	default:
		return nil, fmt.Errorf("unsupported CORRELATION_KAFKA_REBALANCE_STRATEGY: %s", raw)
	}
}

func parseKafkaVersion(raw string) (sarama.KafkaVersion, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "default":
		return sarama.DefaultVersion, nil
	case "max":
		return sarama.MaxVersion, nil
	default:
		version, err := sarama.ParseKafkaVersion(raw)
		if err != nil {
			return sarama.KafkaVersion{}, fmt.Errorf("invalid CORRELATION_KAFKA_SARAMA_VERSION: %w", err)
		}

		return version, nil
	}
}

func parseCompressionCodec(raw string) (sarama.CompressionCodec, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "none":
		return sarama.CompressionNone, nil
	case "gzip":
		return sarama.CompressionGZIP, nil
	case "lz4":
		return sarama.CompressionLZ4, nil
	case "snappy":
		return sarama.CompressionSnappy, nil
	case "zstd":
		return sarama.CompressionZSTD, nil
	default:
		return sarama.CompressionNone, fmt.Errorf("unsupported CORRELATION_KAFKA_PRODUCER_COMPRESSION: %s", raw)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}
