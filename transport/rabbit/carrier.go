package rabbit

import (
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = tableCarrier(nil)

// tableCarrier carries trace context in AMQP headers.
type tableCarrier amqp.Table

func (t tableCarrier) Get(key string) string {
	v, _ := t[key].(string)

	return v
}

func (t tableCarrier) Set(key, value string) {
	t[key] = value
}

func (t tableCarrier) Keys() []string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}

	return keys
}
