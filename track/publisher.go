package track

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PieceEvent is the payload published for every piece found while mapping.
type PieceEvent struct {
	VehicleID string     `json:"vehicleId"`
	Piece     TrackPiece `json:"piece"`
	Timestamp int64      `json:"timestamp"`
}

// Publisher publishes mapping events to MQTT under
// {publishPrefix}/{vehicleID}/pieces, /map and /progress.
type Publisher struct {
	client        mqtt.Client
	publishPrefix string
	qos           byte
	progress      map[string]Progress
	mu            sync.RWMutex
}

// NewPublisher creates a publisher. If client is nil, publishing fails with
// an error (for testing).
func NewPublisher(client mqtt.Client, publishPrefix string) *Publisher {
	return &Publisher{
		client:        client,
		publishPrefix: publishPrefix,
		qos:           0, // QoS 0 for progress updates (fire and forget)
		progress:      make(map[string]Progress),
	}
}

func (p *Publisher) topic(vehicleID, kind string) string {
	return fmt.Sprintf("%s/%s/%s", p.publishPrefix, vehicleID, kind)
}

// Bind publishes the piece and progress events of a session. Publish
// failures are logged. The finished map is published by the owner of the
// completion handler through PublishMap.
func (p *Publisher) Bind(s *Session) {
	s.SetPieceAddedHandler(func(vehicleID string, piece TrackPiece) {
		if err := p.PublishPiece(vehicleID, piece); err != nil {
			log.Printf("[MQTT] Error publishing piece for %s: %v", vehicleID, err)
		}
	})
	s.SetProgressHandler(func(pr Progress) {
		if err := p.PublishProgress(pr); err != nil {
			log.Printf("[MQTT] Error publishing progress for %s: %v", pr.VehicleID, err)
		}
	})
}

// PublishPiece publishes one newly mapped piece. Not retained.
func (p *Publisher) PublishPiece(vehicleID string, piece TrackPiece) error {
	return p.publish(p.topic(vehicleID, "pieces"), p.qos, false, PieceEvent{
		VehicleID: vehicleID,
		Piece:     piece,
		Timestamp: time.Now().UnixMilli(),
	})
}

// PublishMap publishes a finished map document, retained at QoS 1 so late
// subscribers get the current map.
func (p *Publisher) PublishMap(doc Document) error {
	if err := p.publish(p.topic(doc.VehicleID, "map"), 1, true, doc); err != nil {
		return err
	}
	log.Printf("[MQTT] Published map for %s: %d pieces (%s)", doc.VehicleID, len(doc.Pieces), doc.Shape)
	return nil
}

// PublishProgress publishes the live position of a vehicle, retained.
func (p *Publisher) PublishProgress(pr Progress) error {
	p.mu.Lock()
	p.progress[pr.VehicleID] = pr
	p.mu.Unlock()
	return p.publish(p.topic(pr.VehicleID, "progress"), p.qos, true, pr)
}

func (p *Publisher) publish(topic string, qos byte, retain bool, v interface{}) error {
	if p.client == nil || !p.client.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, qos, retain, payload)
	if token.WaitTimeout(2*time.Second) && token.Error() != nil {
		return fmt.Errorf("publishing to %s: %w", topic, token.Error())
	}
	return nil
}

// GetProgress returns the last published progress of a vehicle
func (p *Publisher) GetProgress(vehicleID string) (Progress, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pr, ok := p.progress[vehicleID]
	return pr, ok
}

// ClearProgress forgets a vehicle's progress (e.g., when offline)
func (p *Publisher) ClearProgress(vehicleID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.progress, vehicleID)
}

// SetQoS sets the Quality of Service level for piece and progress updates (0, 1, or 2)
func (p *Publisher) SetQoS(qos byte) {
	if qos <= 2 {
		p.qos = qos
	}
}
