// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/activity_tracker/internal/config"
	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/sensors"
)

// RunIMUProducer reads raw MPU9250 counts every SAMPLE_INTERVAL and publishes
// them as IMURaw JSON on TOPIC_IMU, for a tracker running with
// SENSOR_SOURCE=mqtt elsewhere.
func RunIMUProducer(cfg *config.Config) error {
	log.Println("starting activity IMU producer")

	ranges := imu.Ranges{Accel: cfg.IMUAccelRange, Gyro: cfg.IMUGyroRange}
	reader, err := sensors.NewIMURawReader(cfg.IMUSPIDevice, cfg.IMUCSPin, ranges)
	if err != nil {
		return fmt.Errorf("failed to initialize IMU: %w", err)
	}

	// --- connect to MQTT ---
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	log.Println("connected to MQTT, starting publish loop")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	published := produceIMU(ctx, reader, client, cfg.TopicIMU, cfg.SampleEvery())
	log.Printf("IMU producer stopped after %d samples", published)
	return nil
}

// produceIMU publishes one sample per tick until ctx is done and returns the
// number of samples published. Read and publish errors skip the tick.
func produceIMU(ctx context.Context, reader sensors.IMURawReader, client mqtt.Client, topic string, interval time.Duration) int {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	published := 0
	for {
		select {
		case <-ctx.Done():
			return published
		case <-ticker.C:
		}

		raw, err := reader.ReadRaw()
		if err != nil {
			log.Printf("error reading IMU: %v", err)
			continue
		}
		raw.Source = "mpu9250"

		payload, err := json.Marshal(raw)
		if err != nil {
			log.Printf("json marshal error (imu): %v", err)
			continue
		}
		if token := client.Publish(topic, 0, false, payload); token.Wait() && token.Error() != nil {
			log.Printf("MQTT publish error (%s): %v", topic, token.Error())
			continue
		}
		published++
	}
}
