package app

import (
	"encoding/json"
	"log"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/relabs-tech/activity_tracker/internal/activity"
)

// Publisher forwards activity events to MQTT. It never blocks the caller on
// the broker: publish errors are logged once the token completes.
type Publisher struct {
	client      mqtt.Client
	changeTopic string
	updateTopic string
}

// NewPublisher creates an observer publishing on the given topics. An empty
// topic disables that stream.
func NewPublisher(client mqtt.Client, changeTopic, updateTopic string) *Publisher {
	return &Publisher{client: client, changeTopic: changeTopic, updateTopic: updateTopic}
}

// OnActivityChanged implements activity.Observer.
func (p *Publisher) OnActivityChanged(ev activity.ChangeEvent) {
	p.publish(p.changeTopic, ChangeMessage(ev))
}

// OnActivityUpdate implements activity.Observer.
func (p *Publisher) OnActivityUpdate(ev activity.UpdateEvent) {
	p.publish(p.updateTopic, toUpdateMessage(ev))
}

func (p *Publisher) publish(topic string, v any) {
	if topic == "" {
		return
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("json marshal error (%s): %v", topic, err)
		return
	}

	token := p.client.Publish(topic, 0, true, payload)
	go func() {
		<-token.Done()
		if token.Error() != nil {
			log.Printf("MQTT publish error (%s): %v", topic, token.Error())
		}
	}()
}
