// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/classifier"
	"github.com/relabs-tech/activity_tracker/internal/config"
	"github.com/relabs-tech/activity_tracker/internal/imu"
	"github.com/relabs-tech/activity_tracker/internal/sensors"
	"github.com/relabs-tech/activity_tracker/internal/storage"
	"github.com/relabs-tech/activity_tracker/internal/tracker"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

// RunTracker classifies the configured sensor stream until SIGINT/SIGTERM
// and publishes activity events on MQTT.
func RunTracker(cfg *config.Config) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	// Model assets are mandatory: a tracker without them would only ever
	// report failed cycles.
	clf, err := classifier.Load(cfg.ModelPath, cfg.ScalerPath)
	if err != nil {
		return fmt.Errorf("loading model assets: %w", err)
	}
	log.Printf("loaded model %s and scaler %s", cfg.ModelPath, cfg.ScalerPath)

	policy, err := tracker.ParsePolicy(cfg.BufferPolicy)
	if err != nil {
		return err
	}

	// --- connect to MQTT ---
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDTracker)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)
	log.Printf("connected to MQTT broker at %s", cfg.MQTTBroker)

	source, err := newSource(cfg, client, logger)
	if err != nil {
		return fmt.Errorf("initializing %s source: %w", cfg.SensorSource, err)
	}

	buffer := window.New(cfg.WindowSize)
	poller, err := sensors.NewPoller(buffer, cfg.SampleEvery(), sensors.WithLogger(logger))
	if err != nil {
		return err
	}

	bus := activity.NewBus()
	stats := newSessionStats()
	bus.Subscribe(stats)
	bus.Subscribe(NewPublisher(client, cfg.TopicActivityChange, cfg.TopicActivityUpdate))

	tr, err := tracker.New(buffer, clf, bus,
		tracker.WithPeriod(cfg.PredictEvery()),
		tracker.WithPolicy(policy),
		tracker.WithDegradedUpdates(cfg.DegradedUpdates),
		tracker.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	session, err := tracker.NewSession(source, poller, tr, tracker.WithSessionLogger(logger))
	if err != nil {
		return err
	}

	if cfg.DBPath != "" {
		store, err := openActivityLog(cfg, session.ID(), source.Name())
		if err != nil {
			return err
		}
		defer func() {
			if err := store.EndSession(context.Background(), session.ID(), time.Now()); err != nil {
				log.Printf("activity log: %v", err)
			}
			if err := store.Close(); err != nil {
				log.Printf("activity log close: %v", err)
			}
		}()
		bus.Subscribe(storage.NewRecorder(store, session.ID(), storage.WithLogger(logger)))
		log.Printf("recording transitions to %s", cfg.DBPath)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Start(ctx); err != nil {
		return err
	}
	log.Printf("session %s started: source=%s window=%d sample=%s predict=%s policy=%s",
		session.ID(), source.Name(), buffer.Cap(), cfg.SampleEvery(), cfg.PredictEvery(), policy)

	select {
	case <-ctx.Done():
		log.Println("shutting down")
	case <-session.Done():
	}
	err = session.Stop()

	pushed, dropped := poller.Stats()
	log.Print(stats.summary(time.Since(session.StartedAt()), pushed, dropped))
	return err
}

func connectMQTT(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("MQTT connect error: %w", token.Error())
	}
	return client, nil
}

// newSource builds the sensor source selected by SENSOR_SOURCE.
func newSource(cfg *config.Config, client mqtt.Client, logger *slog.Logger) (sensors.Source, error) {
	ranges := imu.Ranges{Accel: cfg.IMUAccelRange, Gyro: cfg.IMUGyroRange}
	opt := sensors.WithLogger(logger)

	switch cfg.SensorSource {
	case config.SourceMQTT:
		return sensors.NewMQTTSource(client, cfg.TopicIMU, ranges, opt)
	case config.SourceSerial:
		return sensors.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate, opt)
	case config.SourceMPU9250:
		return sensors.NewMPU9250Source(cfg.IMUSPIDevice, cfg.IMUCSPin, ranges, cfg.SampleEvery(), opt)
	case config.SourceMock, "":
		mode, err := activity.ParseLabel(cfg.MockMode)
		if err != nil {
			return nil, err
		}
		return sensors.NewMockSource(cfg.SampleEvery(), mode, opt)
	default:
		return nil, fmt.Errorf("unknown sensor source %q", cfg.SensorSource)
	}
}

func openActivityLog(cfg *config.Config, sessionID, sourceName string) (*storage.SqliteStore, error) {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}
	err = store.CreateSession(context.Background(), storage.SessionRecord{
		ID:         sessionID,
		StartTime:  time.Now(),
		Source:     sourceName,
		ModelPath:  cfg.ModelPath,
		ScalerPath: cfg.ScalerPath,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// sessionStats counts events and the time spent in each activity.
type sessionStats struct {
	mu      sync.Mutex
	updates int64
	changes int64
	failed  int64
	current activity.Label
	since   time.Time
	spent   map[activity.Label]time.Duration
}

func newSessionStats() *sessionStats {
	return &sessionStats{current: activity.Idle, spent: make(map[activity.Label]time.Duration)}
}

func (s *sessionStats) OnActivityChanged(ev activity.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.changes++
	if !s.since.IsZero() {
		s.spent[s.current] += ev.Time.Sub(s.since)
	}
	s.current, s.since = ev.New, ev.Time
}

func (s *sessionStats) OnActivityUpdate(ev activity.UpdateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.Degraded {
		s.failed++
		return
	}
	s.updates++
}

func (s *sessionStats) summary(elapsed time.Duration, pushed, dropped uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	spent := make(map[activity.Label]time.Duration, len(s.spent)+1)
	for l, d := range s.spent {
		spent[l] = d
	}
	if !s.since.IsZero() {
		spent[s.current] += time.Since(s.since)
	}

	return fmt.Sprintf("session ended after %s: %s updates (%s degraded), %s changes, %s samples (%s dropped); walking %s, running %s",
		elapsed.Round(time.Second),
		humanize.Comma(s.updates), humanize.Comma(s.failed), humanize.Comma(s.changes),
		humanize.Comma(int64(pushed)), humanize.Comma(int64(dropped)),
		spent[activity.Walking].Round(time.Second), spent[activity.Running].Round(time.Second))
}
