// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics exposes mini-protocol traffic as Prometheus metrics
package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/nodeclient/protocol"
)

const (
	protocolLabel = "protocol"
	msgTypeLabel  = "msg_type"
)

var (
	_ protocol.MessageObserver = (*Collector)(nil)

	messageLabels = []string{protocolLabel, msgTypeLabel}
)

// Collector counts messages sent and received and protocol failures. It is passed to a
// connection with nodeclient.WithMetrics
type Collector struct {
	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	protocolFailures *prometheus.CounterVec
}

// New creates a Collector and registers its metrics. A registerer that already holds metrics
// with the same names is reused
func New(namespace string, registerer prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "number of mini-protocol messages sent",
			},
			messageLabels,
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_received_total",
				Help:      "number of mini-protocol messages received",
			},
			messageLabels,
		),
		protocolFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "protocol_failures_total",
				Help:      "number of mini-protocol instances that failed",
			},
			[]string{protocolLabel},
		),
	}
	var err error
	if c.messagesSent, err = register(registerer, c.messagesSent); err != nil {
		return nil, err
	}
	if c.messagesReceived, err = register(registerer, c.messagesReceived); err != nil {
		return nil, err
	}
	if c.protocolFailures, err = register(registerer, c.protocolFailures); err != nil {
		return nil, err
	}
	return c, nil
}

func register(
	registerer prometheus.Registerer,
	counter *prometheus.CounterVec,
) (*prometheus.CounterVec, error) {
	if err := registerer.Register(counter); err != nil {
		var alreadyErr prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyErr) {
			if existing, ok := alreadyErr.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return counter, nil
}

func (c *Collector) MessageSent(protocolName string, msgType uint8) {
	c.messagesSent.With(prometheus.Labels{
		protocolLabel: protocolName,
		msgTypeLabel:  strconv.Itoa(int(msgType)),
	}).Inc()
}

func (c *Collector) MessageReceived(protocolName string, msgType uint8) {
	c.messagesReceived.With(prometheus.Labels{
		protocolLabel: protocolName,
		msgTypeLabel:  strconv.Itoa(int(msgType)),
	}).Inc()
}

func (c *Collector) ProtocolFailed(protocolName string, _ error) {
	c.protocolFailures.With(prometheus.Labels{
		protocolLabel: protocolName,
	}).Inc()
}
