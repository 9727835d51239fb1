// Package notify publishes deposit status transitions to Kafka for
// downstream observability/indexing consumers (SPEC_FULL.md §4.10), grounded
// on datasync/chaindatafetcher/kafka's repository: a
// sarama.SyncProducer wrapped behind a narrow Publish method, configured with
// the same Brokers/Partitions/Replicas shape as its KafkaConfig.
// Publishing is best-effort: failures are logged and never block a
// transition (SPEC_FULL.md §4.10, §7).
package notify

import (
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	uuid "github.com/hashicorp/go-uuid"

	rlog "github.com/tbtc-relay/relayer/internal/log"
)

var logger = rlog.NewModuleLogger("notify")

// Config mirrors kafka.KafkaConfig's fields the notifier needs.
type Config struct {
	Brokers     []string
	Partitions  int32
	Replicas    int16
	TopicPrefix string
}

// Transition is the payload published for every persisted status change.
type Transition struct {
	ID         string  `json:"id"`
	Chain      string  `json:"chain"`
	FromStatus string  `json:"fromStatus"`
	ToStatus   string  `json:"toStatus"`
	TxHash     *string `json:"txHash,omitempty"`
	At         int64   `json:"at"`
}

// Notifier publishes Transitions to a per-chain Kafka topic. A Notifier with
// no producer (as returned by NewNoop) and a nil *Notifier are both no-ops,
// matching "absent broker configuration, the notifier is a no-op"
// (SPEC_FULL.md §4.10).
type Notifier struct {
	producer sarama.SyncProducer
	prefix   string
}

// New dials the configured brokers and returns a ready Notifier. Callers
// with no Kafka configuration should use NewNoop instead of calling New.
func New(cfg Config) (*Notifier, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.Return.Successes = true
	saramaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	saramaCfg.Version = sarama.MaxVersion

	if clientID, err := uuid.GenerateUUID(); err == nil {
		saramaCfg.ClientID = "relayer-" + clientID
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("notify: dialing kafka brokers: %w", err)
	}
	return &Notifier{producer: producer, prefix: cfg.TopicPrefix}, nil
}

// NewNoop returns a Notifier whose Publish calls are always no-ops, used
// when no broker configuration is present.
func NewNoop() *Notifier {
	return &Notifier{}
}

// Publish sends t to the "<prefix>.<chain>" topic. Errors are logged, never
// returned: a broker outage must never stall a deposit's state machine.
func (n *Notifier) Publish(t Transition) {
	if n == nil || n.producer == nil {
		return
	}
	payload, err := json.Marshal(t)
	if err != nil {
		logger.Error("failed to marshal transition", "id", t.ID, "err", err)
		return
	}

	topic := fmt.Sprintf("%s.%s", n.prefix, t.Chain)
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(t.ID),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := n.producer.SendMessage(msg); err != nil {
		logger.Warn("failed to publish deposit transition", "id", t.ID, "topic", topic, "err", err)
	}
}

// Close releases the underlying producer connection.
func (n *Notifier) Close() error {
	if n == nil || n.producer == nil {
		return nil
	}
	return n.producer.Close()
}
