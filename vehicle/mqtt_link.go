package vehicle

import (
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kwv/trackmesh/config"
)

const (
	subscribeTimeout = 5 * time.Second
	publishTimeout   = 5 * time.Second

	// inboundQueue is the number of frames a link buffers for its subscriber.
	inboundQueue = 256
)

// NotifyTopic is the topic the bridge publishes a vehicle's inbound frames to.
func NotifyTopic(prefix, vehicleID string) string {
	return fmt.Sprintf("%s/%s/notify", prefix, vehicleID)
}

// WriteTopic is the topic the bridge forwards to a vehicle.
func WriteTopic(prefix, vehicleID string) string {
	return fmt.Sprintf("%s/%s/write", prefix, vehicleID)
}

// MQTTBridge manages the broker connection shared by the links of every
// vehicle behind a BLE-to-MQTT bridge.
type MQTTBridge struct {
	client      mqtt.Client
	config      config.MQTTConfig
	links       map[string]*MQTTLink
	isConnected bool
	done        chan struct{}
	closeOnce   sync.Once
	mu          sync.RWMutex
}

// NewMQTTBridge builds the paho client for cfg. Call Start to connect.
func NewMQTTBridge(cfg config.MQTTConfig) (*MQTTBridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is not configured")
	}

	b := newBridge(cfg)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = config.DefaultClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Connection settings
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true) // links resubscribe in onConnect
	opts.SetOrderMatters(true) // handlers only enqueue, see MQTTLink.handleMessage

	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)
	opts.SetReconnectingHandler(b.onReconnecting)

	b.client = mqtt.NewClient(opts)
	return b, nil
}

// connectionHooks is implemented by clients built without options, such as
// MockClient, to receive the handlers NewMQTTBridge sets on real options.
type connectionHooks interface {
	SetOnConnectHandler(mqtt.OnConnectHandler)
	SetConnectionLostHandler(mqtt.ConnectionLostHandler)
}

// NewMQTTBridgeWithClient wraps an existing client, typically a MockClient.
func NewMQTTBridgeWithClient(client mqtt.Client, cfg config.MQTTConfig) *MQTTBridge {
	b := newBridge(cfg)
	b.client = client
	if hooks, ok := client.(connectionHooks); ok {
		hooks.SetOnConnectHandler(b.onConnect)
		hooks.SetConnectionLostHandler(b.onConnectionLost)
	}
	return b
}

func newBridge(cfg config.MQTTConfig) *MQTTBridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}
	return &MQTTBridge{
		config: cfg,
		links:  make(map[string]*MQTTLink),
		done:   make(chan struct{}),
	}
}

// Start connects asynchronously with retry.
func (b *MQTTBridge) Start() {
	go b.connectWithRetry()
}

// connectWithRetry attempts to connect to the MQTT broker with exponential backoff
func (b *MQTTBridge) connectWithRetry() {
	retryDelay := 1 * time.Second
	maxRetryDelay := 60 * time.Second

	for {
		Logf("[MQTT] Connecting to broker %s...", b.config.Broker)

		token := b.client.Connect()
		if token.WaitTimeout(10 * time.Second) {
			if token.Error() == nil {
				Logf("[MQTT] Connected to broker")
				b.setConnected(true)
				return
			}
			Logf("[MQTT] Connection failed: %v", token.Error())
		} else {
			Logf("[MQTT] Connection timeout")
		}

		Logf("[MQTT] Retrying connection in %v...", retryDelay)
		select {
		case <-b.done:
			return
		case <-time.After(retryDelay):
		}
		retryDelay *= 2
		if retryDelay > maxRetryDelay {
			retryDelay = maxRetryDelay
		}
	}
}

// onConnect restores the subscriptions of every active link.
func (b *MQTTBridge) onConnect(client mqtt.Client) {
	Logf("[MQTT] Connected, restoring vehicle subscriptions...")
	b.setConnected(true)

	for _, l := range b.snapshotLinks() {
		if !l.isActive() {
			continue
		}
		if err := l.subscribe(); err != nil {
			Logf("[MQTT] Error resubscribing %s: %v", l.notifyTopic, err)
			continue
		}
		l.notifyState(true)
	}
}

// onConnectionLost is called when the MQTT connection is lost.
// Auto-reconnect is enabled, so this is typically a transient event.
func (b *MQTTBridge) onConnectionLost(client mqtt.Client, err error) {
	Logf("[MQTT] Connection interrupted (%v), auto-reconnect will retry", err)
	b.setConnected(false)

	for _, l := range b.snapshotLinks() {
		if l.isActive() {
			l.notifyState(false)
		}
	}
}

func (b *MQTTBridge) onReconnecting(client mqtt.Client, opts *mqtt.ClientOptions) {
	Logf("[MQTT] Reconnecting...")
}

func (b *MQTTBridge) snapshotLinks() []*MQTTLink {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*MQTTLink, 0, len(b.links))
	for _, l := range b.links {
		out = append(out, l)
	}
	return out
}

// IsConnected returns true if the broker connection is up.
func (b *MQTTBridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isConnected && b.client.IsConnected()
}

func (b *MQTTBridge) setConnected(connected bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isConnected = connected
}

// Client returns the underlying MQTT client for publishing.
func (b *MQTTBridge) Client() mqtt.Client {
	return b.client
}

// Close stops reconnect attempts and disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	if b.client != nil && b.client.IsConnected() {
		Logf("[MQTT] Disconnecting from broker...")
		b.client.Disconnect(250)
	}
	b.setConnected(false)
}

// Link returns the link of vehicleID, creating it on first use.
func (b *MQTTBridge) Link(vehicleID string) *MQTTLink {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.links[vehicleID]; ok {
		return l
	}
	l := &MQTTLink{
		bridge:      b,
		vehicleID:   vehicleID,
		notifyTopic: NotifyTopic(b.config.TopicPrefix, vehicleID),
		writeTopic:  WriteTopic(b.config.TopicPrefix, vehicleID),
		inbound:     make(chan []byte, inboundQueue),
	}
	b.links[vehicleID] = l
	go l.deliver(b.done)
	return l
}

// MQTTLink carries the frames of one vehicle over the bridge topics.
//
// Inbound frames are queued and handed to the subscriber in arrival order on
// the link's own goroutine, so a subscriber may publish and wait on tokens.
type MQTTLink struct {
	bridge      *MQTTBridge
	vehicleID   string
	notifyTopic string
	writeTopic  string
	inbound     chan []byte

	mu      sync.RWMutex
	active  bool
	onValue func([]byte)
	onState func(bool)
}

var (
	_ Link         = (*MQTTLink)(nil)
	_ StateWatcher = (*MQTTLink)(nil)
)

// Connect subscribes to the notify topic. The broker connection must be up.
func (l *MQTTLink) Connect() error {
	if !l.bridge.IsConnected() {
		return fmt.Errorf("connecting %s: %w", l.vehicleID, ErrNotConnected)
	}
	if err := l.subscribe(); err != nil {
		return fmt.Errorf("connecting %s: %w", l.vehicleID, err)
	}
	l.mu.Lock()
	l.active = true
	l.mu.Unlock()
	return nil
}

func (l *MQTTLink) subscribe() error {
	token := l.bridge.client.Subscribe(l.notifyTopic, 1, l.handleMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("subscribing to %s: timeout", l.notifyTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribing to %s: %w", l.notifyTopic, err)
	}
	Logf("[MQTT] Subscribed to %s", l.notifyTopic)
	return nil
}

// Disconnect drops the subscription. The shared broker connection stays up.
func (l *MQTTLink) Disconnect() error {
	l.mu.Lock()
	wasActive := l.active
	l.active = false
	l.mu.Unlock()

	if !wasActive {
		return nil
	}
	token := l.bridge.client.Unsubscribe(l.notifyTopic)
	if token.WaitTimeout(subscribeTimeout) && token.Error() != nil {
		return fmt.Errorf("unsubscribing from %s: %w", l.notifyTopic, token.Error())
	}
	return nil
}

// IsConnected reports whether the link is subscribed and the broker is up.
func (l *MQTTLink) IsConnected() bool {
	return l.isActive() && l.bridge.IsConnected()
}

func (l *MQTTLink) isActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// WriteRaw publishes frame to the write topic.
func (l *MQTTLink) WriteRaw(frame []byte) bool {
	if !l.IsConnected() {
		return false
	}
	token := l.bridge.client.Publish(l.writeTopic, 1, false, frame)
	if !token.WaitTimeout(publishTimeout) {
		Logf("[MQTT] Publish to %s timed out", l.writeTopic)
		return false
	}
	if err := token.Error(); err != nil {
		Logf("[MQTT] Error publishing to %s: %v", l.writeTopic, err)
		return false
	}
	return true
}

// Subscribe registers the inbound frame callback.
func (l *MQTTLink) Subscribe(onValueChanged func([]byte)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onValue = onValueChanged
}

// OnStateChange registers the callback for broker connection changes.
func (l *MQTTLink) OnStateChange(fn func(bool)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *MQTTLink) notifyState(connected bool) {
	l.mu.RLock()
	fn := l.onState
	l.mu.RUnlock()
	if fn != nil {
		fn(connected)
	}
}

func (l *MQTTLink) handleMessage(client mqtt.Client, msg mqtt.Message) {
	l.mu.RLock()
	fn := l.onValue
	active := l.active
	l.mu.RUnlock()
	if fn == nil || !active {
		return
	}
	frame := make([]byte, len(msg.Payload()))
	copy(frame, msg.Payload())

	// paho dispatches in order on one goroutine, which must never block
	select {
	case l.inbound <- frame:
	default:
		Logf("[MQTT] %s: inbound queue full, dropping frame % X", l.vehicleID, frame)
	}
}

// deliver runs until done is closed.
func (l *MQTTLink) deliver(done <-chan struct{}) {
	for {
		select {
		case frame := <-l.inbound:
			l.mu.RLock()
			fn := l.onValue
			l.mu.RUnlock()
			if fn != nil {
				fn(frame)
			}
		case <-done:
			return
		}
	}
}
