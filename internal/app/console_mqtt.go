package app

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/activity_tracker/internal/config"
)

// RunConsoleMQTT prints activity changes and updates as they arrive.
func RunConsoleMQTT(cfg *config.Config) error {
	client, err := connectMQTT(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	log.Printf("console: connected to MQTT broker at %s", cfg.MQTTBroker)

	var changes, updates atomic.Int64

	// Subscribe to activity changes
	changeToken := client.Subscribe(cfg.TopicActivityChange, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var ev ChangeMessage
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			log.Printf("console: change unmarshal error: %v", err)
			return
		}
		changes.Add(1)
		fmt.Println(formatChange(ev))
	})
	changeToken.Wait()
	if changeToken.Error() != nil {
		return changeToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicActivityChange)

	// Subscribe to per-cycle updates
	updateToken := client.Subscribe(cfg.TopicActivityUpdate, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var u UpdateMessage
		if err := json.Unmarshal(msg.Payload(), &u); err != nil {
			log.Printf("console: update unmarshal error: %v", err)
			return
		}
		updates.Add(1)
		fmt.Println(formatUpdate(u))
	})
	updateToken.Wait()
	if updateToken.Error() != nil {
		return updateToken.Error()
	}
	log.Printf("console: subscribed to %s", cfg.TopicActivityUpdate)

	// Wait for Ctrl+C
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Printf("console: shutting down after %s changes and %s updates",
		humanize.Comma(changes.Load()), humanize.Comma(updates.Load()))
	client.Disconnect(250)
	return nil
}

func formatChange(ev ChangeMessage) string {
	return fmt.Sprintf("[CHANGE] %s  %-7s -> %-7s  confidence=%s%%",
		ev.Time.Format(time.TimeOnly), ev.Old, ev.New, humanize.FtoaWithDigits(ev.Confidence*100, 1))
}

func formatUpdate(u UpdateMessage) string {
	if u.Degraded {
		return fmt.Sprintf("[UPDATE] %s  %-7s  degraded: %s", u.Time.Format(time.TimeOnly), u.Label, u.Error)
	}
	return fmt.Sprintf("[UPDATE] %s  %-7s  p(running)=%.3f", u.Time.Format(time.TimeOnly), u.Label, u.Score)
}
