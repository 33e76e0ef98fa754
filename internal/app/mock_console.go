// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relabs-tech/activity_tracker/internal/activity"
	"github.com/relabs-tech/activity_tracker/internal/classifier"
	"github.com/relabs-tech/activity_tracker/internal/config"
	"github.com/relabs-tech/activity_tracker/internal/sensors"
	"github.com/relabs-tech/activity_tracker/internal/tracker"
	"github.com/relabs-tech/activity_tracker/internal/window"
)

// RunMockConsole runs the whole pipeline offline on the mock source and
// prints events to stdout. The mock gait flips between walking and running
// every switchEvery; zero keeps MOCK_MODE.
func RunMockConsole(cfg *config.Config, switchEvery time.Duration) error {
	clf, err := classifier.Load(cfg.ModelPath, cfg.ScalerPath)
	if err != nil {
		return fmt.Errorf("loading model assets: %w", err)
	}
	mode, err := activity.ParseLabel(cfg.MockMode)
	if err != nil {
		return err
	}
	src, err := sensors.NewMockSource(cfg.SampleEvery(), mode)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session, err := newConsoleSession(cfg, clf, src, os.Stdout)
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return err
	}

	var flip <-chan time.Time
	if switchEvery > 0 {
		ticker := time.NewTicker(switchEvery)
		defer ticker.Stop()
		flip = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return session.Stop()
		case <-session.Done():
			return session.Err()
		case <-flip:
			next := activity.Running
			if src.Mode() == activity.Running {
				next = activity.Walking
			}
			if err := src.SetMode(next); err != nil {
				return err
			}
			log.Printf("mock gait switched to %s", next)
		}
	}
}

func newConsoleSession(cfg *config.Config, clf tracker.Classifier, src sensors.Source, w io.Writer) (*tracker.Session, error) {
	buffer := window.New(cfg.WindowSize)
	poller, err := sensors.NewPoller(buffer, cfg.SampleEvery())
	if err != nil {
		return nil, err
	}

	bus := activity.NewBus()
	bus.Subscribe(activity.ObserverFuncs{
		Changed: func(ev activity.ChangeEvent) { fmt.Fprintln(w, formatChange(ev)) },
		Updated: func(ev activity.UpdateEvent) { fmt.Fprintln(w, formatUpdate(toUpdateMessage(ev))) },
	})

	tr, err := tracker.New(buffer, clf, bus,
		tracker.WithPeriod(cfg.PredictEvery()),
		tracker.WithDegradedUpdates(cfg.DegradedUpdates))
	if err != nil {
		return nil, err
	}
	return tracker.NewSession(src, poller, tr)
}
