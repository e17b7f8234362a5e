package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/wyfcoding/daytrading/internal/matching/domain"
	"github.com/wyfcoding/daytrading/pkg/mq"
)

const (
	requestTopicPrefix = "matching.requests."
	resultTopic        = "matching.results"
)

// kafkaBroker 基于 Kafka 的撮合消息通道。
// 每个标的一个请求 topic，消息 key 为订单 ID；结果走统一 topic。
// 消费端使用手动提交，确认前崩溃会重新投递。
type kafkaBroker struct {
	producer *mq.KafkaProducer
	config   mq.KafkaConfig

	mu        sync.Mutex
	consumers []*mq.KafkaConsumer
}

// NewKafkaBroker 创建 Kafka 撮合消息通道
func NewKafkaBroker(cfg mq.KafkaConfig) domain.Broker {
	return &kafkaBroker{
		producer: mq.NewProducer(cfg),
		config:   cfg,
	}
}

// PublishRequest 发布撮合请求到对应标的的 topic
func (b *kafkaBroker) PublishRequest(ctx context.Context, req *domain.MatchRequest) error {
	topic := requestTopicPrefix + req.Instrument
	if err := b.producer.SendMessage(ctx, topic, req.OrderID, req); err != nil {
		return fmt.Errorf("failed to publish match request: %w", err)
	}
	return nil
}

// PublishResult 发布撮合结果
func (b *kafkaBroker) PublishResult(ctx context.Context, result *domain.MatchResult) error {
	if err := b.producer.SendMessage(ctx, resultTopic, result.OrderID, result); err != nil {
		return fmt.Errorf("failed to publish match result: %w", err)
	}
	return nil
}

// Requests 获取某标的的请求消费端
func (b *kafkaBroker) Requests(instrument string) domain.RequestSource {
	consumer := mq.NewConsumer(b.config, requestTopicPrefix+instrument)
	b.track(consumer)
	return &kafkaRequestSource{consumer: consumer}
}

// Results 获取结果消费端
func (b *kafkaBroker) Results() domain.ResultSource {
	consumer := mq.NewConsumer(b.config, resultTopic)
	b.track(consumer)
	return &kafkaResultSource{consumer: consumer}
}

func (b *kafkaBroker) track(consumer *mq.KafkaConsumer) {
	b.mu.Lock()
	b.consumers = append(b.consumers, consumer)
	b.mu.Unlock()
}

// Close 关闭生产者与全部消费者
func (b *kafkaBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := b.producer.Close()
	for _, c := range b.consumers {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

type kafkaRequestSource struct {
	consumer *mq.KafkaConsumer
}

func (s *kafkaRequestSource) Fetch(ctx context.Context) (*domain.MatchRequest, domain.AckFunc, error) {
	msg, err := s.consumer.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	var req domain.MatchRequest
	if err := msg.UnmarshalPayload(&req); err != nil {
		// 无法解析的消息直接确认丢弃，避免毒丸堵塞队列
		_ = s.consumer.Commit(ctx, msg)
		return nil, nil, fmt.Errorf("failed to unmarshal match request: %w", err)
	}
	ack := func(ackCtx context.Context) error {
		return s.consumer.Commit(ackCtx, msg)
	}
	return &req, ack, nil
}

type kafkaResultSource struct {
	consumer *mq.KafkaConsumer
}

func (s *kafkaResultSource) Fetch(ctx context.Context) (*domain.MatchResult, domain.AckFunc, error) {
	msg, err := s.consumer.Fetch(ctx)
	if err != nil {
		return nil, nil, err
	}
	var result domain.MatchResult
	if err := msg.UnmarshalPayload(&result); err != nil {
		_ = s.consumer.Commit(ctx, msg)
		return nil, nil, fmt.Errorf("failed to unmarshal match result: %w", err)
	}
	ack := func(ackCtx context.Context) error {
		return s.consumer.Commit(ackCtx, msg)
	}
	return &result, ack, nil
}
