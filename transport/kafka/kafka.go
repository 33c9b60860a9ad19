// Copyright 2024 The objectbridge Authors
// This file is part of the objectbridge library.
//
// The objectbridge library is free software: you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// The objectbridge library is distributed in the hope that it will be
// useful, but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the GNU Lesser
// General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the objectbridge library. If not, see
// <http://www.gnu.org/licenses/>.

// Package kafka carries a Bridge's Messages over a pair of Kafka topics: one
// this side produces to, one it consumes from. It is the queued-channel
// transport of SPEC_FULL.md's domain stack, with Kafka's per-partition-only
// ordering. A Link consumes from the newest offset, so traffic produced
// while it was not connected is not replayed when it connects.
package kafka

import (
	"encoding/json"

	"github.com/Shopify/sarama"
	"github.com/pkg/errors"

	"github.com/objectbridge/objectbridge/bridge"
	"github.com/objectbridge/objectbridge/internal/log"
)

var kafkaLogger = log.NewModuleLogger(log.ModuleTransport)

// Config names the broker list and the topic pair a Link uses. OutTopic and
// InTopic are from this side's perspective; the peer's Config swaps them.
type Config struct {
	Brokers  []string
	OutTopic string
	InTopic  string
	// Partition is the single partition both topics are read/written on.
	// A bridge's Message ordering guarantee (spec section 5's "messages
	// from one peer apply in send order") only holds within one partition,
	// so a Link intentionally does not fan out across partitions.
	Partition int32
}

// Link is one bridge endpoint carried over Kafka.
type Link struct {
	Bridge *bridge.Bridge

	producer sarama.SyncProducer
	consumer sarama.PartitionConsumer
	outTopic string
	done     chan struct{}
}

func newSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Consumer.Return.Errors = true
	return cfg
}

// Connect opens a producer against cfg.OutTopic and a consumer against
// cfg.InTopic (starting from the newest offset — a Link only carries live
// bridge traffic, not replay), and wires both to a freshly created local
// bridge rooted at root.
func Connect(cfg Config, root interface{}, opts *bridge.Options) (*Link, error) {
	saramaCfg := newSaramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	consumerGroup, err := sarama.NewConsumer(cfg.Brokers, saramaCfg)
	if err != nil {
		_ = producer.Close()
		return nil, errors.WithStack(err)
	}
	partConsumer, err := consumerGroup.ConsumePartition(cfg.InTopic, cfg.Partition, sarama.OffsetNewest)
	if err != nil {
		_ = producer.Close()
		_ = consumerGroup.Close()
		return nil, errors.WithStack(err)
	}

	l := &Link{
		producer: producer,
		consumer: partConsumer,
		outTopic: cfg.OutTopic,
		done:     make(chan struct{}),
	}
	b, err := bridge.NewBridge(root, l.send, opts)
	if err != nil {
		_ = partConsumer.Close()
		_ = producer.Close()
		return nil, err
	}
	l.Bridge = b
	return l, nil
}

func (l *Link) send(msg bridge.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.WithStack(err)
	}
	_, _, err = l.producer.SendMessage(&sarama.ProducerMessage{
		Topic: l.outTopic,
		Value: sarama.ByteEncoder(raw),
	})
	return errors.WithStack(err)
}

// Serve drains the consumer's Messages channel, decoding each into a
// bridge.Message, until the partition consumer is closed. Blocks; run it in
// its own goroutine.
func (l *Link) Serve() {
	for {
		select {
		case <-l.done:
			return
		case cErr, ok := <-l.consumer.Errors():
			if !ok {
				return
			}
			kafkaLogger.Warn("kafka consumer error", "err", cErr)
		case m, ok := <-l.consumer.Messages():
			if !ok {
				return
			}
			var msg bridge.Message
			if err := json.Unmarshal(m.Value, &msg); err != nil {
				kafkaLogger.Warn("dropping malformed kafka message", "err", err, "offset", m.Offset)
				continue
			}
			if err := l.Bridge.HandleMessage(msg); err != nil {
				kafkaLogger.Warn("bridge rejected inbound message", "err", err)
			}
		}
	}
}

// Close tears down the Link: the bridge, the partition consumer, and the
// producer, in that order.
func (l *Link) Close() error {
	close(l.done)
	l.Bridge.SendNow()
	bridgeErr := l.Bridge.Close()
	consumerErr := l.consumer.Close()
	producerErr := l.producer.Close()
	if bridgeErr != nil {
		return bridgeErr
	}
	if consumerErr != nil {
		return consumerErr
	}
	return producerErr
}
