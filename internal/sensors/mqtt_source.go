// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/activity_tracker/internal/imu"
)

// MQTTSource subscribes to raw IMU samples published by the IMU producer.
type MQTTSource struct {
	client mqtt.Client
	topic  string
	ranges imu.Ranges
	opts   options

	parseErrors atomic.Int32
}

// NewMQTTSource creates a source reading imu.IMURaw JSON payloads from topic
// on an already connected client.
func NewMQTTSource(client mqtt.Client, topic string, ranges imu.Ranges, opts ...Option) (*MQTTSource, error) {
	if topic == "" {
		return nil, fmt.Errorf("mqtt source: empty topic")
	}
	if err := ranges.Validate(); err != nil {
		return nil, fmt.Errorf("mqtt source: %w", err)
	}
	return &MQTTSource{
		client: client,
		topic:  topic,
		ranges: ranges,
		opts:   buildOptions("mqtt", opts),
	}, nil
}

func (s *MQTTSource) Name() string { return "mqtt" }

// Stream implements Source. It subscribes for the lifetime of ctx.
func (s *MQTTSource) Stream(ctx context.Context, out chan<- Reading) error {
	failed := make(chan error, 1)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if ctx.Err() != nil {
			return
		}
		sample, err := decodeIMURaw(msg.Payload(), s.ranges)
		if err != nil {
			n := s.parseErrors.Add(1)
			s.opts.logger.Warn("dropping imu payload", slog.String("error", err.Error()))
			if n >= ParseErrorsThreshold {
				select {
				case failed <- ErrTooManyParseErrors:
				default:
				}
			}
			return
		}
		s.parseErrors.Store(0)
		emit(ctx, out, sample, time.Now())
	}

	token := s.client.Subscribe(s.topic, 0, handler)
	token.Wait()
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt source: subscribe %s: %w", s.topic, err)
	}
	s.opts.logger.Info("subscribed", slog.String("topic", s.topic))

	var err error
	select {
	case <-ctx.Done():
	case err = <-failed:
	}

	if token := s.client.Unsubscribe(s.topic); token.Wait() && token.Error() != nil {
		s.opts.logger.Warn("unsubscribe failed", slog.String("error", token.Error().Error()))
	}
	return err
}

// decodeIMURaw converts one producer payload into physical units.
func decodeIMURaw(payload []byte, ranges imu.Ranges) (imu.Sample, error) {
	var raw imu.IMURaw
	if err := json.Unmarshal(payload, &raw); err != nil {
		return imu.Sample{}, fmt.Errorf("unmarshal imu raw: %w", err)
	}
	return raw.ToSample(ranges), nil
}
