// Package sfu implements the SFU Coordinator of spec.md §4.5: a pool of
// workers, one lazily-created Router per voice-active channel, and the
// six-step WebRTC handshake that hands out Transports, Producers and
// Consumers. It is grounded on bureau-foundation-bureau/transport's
// pion/webrtc/v4 usage (PeerConnection lifecycle, ICE server wiring from
// TURN credentials, ICE-state-driven cleanup) generalized from a
// peer-to-peer data-channel transport to a server-side audio SFU: a
// Transport here carries RTP media instead of a detached data channel,
// and Producers/Consumers sit on top of it the way mediasoup's API
// shapes the six-step handshake spec.md §4.5 names.
package sfu

import (
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Worker is a logical SFU worker. Real RTP forwarding runs on whichever
// goroutines pion spins up for a PeerConnection; Worker exists so
// routers can be distributed round-robin the way spec.md §4.5 requires,
// and so a future move to a true worker-process pool (one OS process per
// Worker) only touches this file.
type Worker struct {
	ID int
}

// Coordinator owns the worker pool and the map of voice-active routers.
// Its own maps are guarded by mu; each Router additionally guards its
// own session map, since the Router is the unit of concurrent access
// spec.md §5 calls out ("the SFU Coordinator's maps ... must be
// guarded").
type Coordinator struct {
	mu      sync.Mutex
	workers []*Worker
	next    int
	routers map[int64]*Router

	iceServers []webrtc.ICEServer
	sugar      *zap.SugaredLogger

	// onFatal is invoked if a worker reports itself dead. Per spec.md
	// §4.5 this is the one fatal condition in the system; main.go wires
	// this to os.Exit with a non-zero status.
	onFatal func(workerID int)

	// onProducerClosed is invoked whenever a producer clears itself
	// without an explicit CLOSE_PRODUCER — today, only an ICE failure on
	// its send transport. The session layer wires this to the same
	// PRODUCER_CLOSED broadcast the explicit path uses, since spec.md
	// §4.5's "reference is cleared" invariant is supposed to hold either
	// way.
	onProducerClosed func(channelID int64, userID, producerID string)
}

// SetOnProducerClosed registers the callback fired when a producer
// closes on its own, outside the CLOSE_PRODUCER request path.
func (c *Coordinator) SetOnProducerClosed(fn func(channelID int64, userID, producerID string)) {
	c.onProducerClosed = fn
}

// Close tears down every voice-active router, closing every session's
// transports, producers and consumers — the SFU half of the shutdown
// ordering spec.md §6 requires before the transport and the stores are
// closed.
func (c *Coordinator) Close() {
	c.mu.Lock()
	routers := make([]*Router, 0, len(c.routers))
	for _, r := range c.routers {
		routers = append(routers, r)
	}
	c.routers = make(map[int64]*Router)
	c.mu.Unlock()

	for _, r := range routers {
		r.closeAllSessions()
	}
}

// NewCoordinator spawns one Worker per logical CPU, matching the
// "one worker per logical CPU at startup" rule.
func NewCoordinator(iceServers []webrtc.ICEServer, sugar *zap.SugaredLogger, onFatal func(int)) *Coordinator {
	n := runtime.NumCPU()
	workers := make([]*Worker, n)
	for i := range workers {
		workers[i] = &Worker{ID: i}
	}
	return &Coordinator{
		workers:    workers,
		routers:    make(map[int64]*Router),
		iceServers: iceServers,
		sugar:      sugar,
		onFatal:    onFatal,
	}
}

// nextWorker assigns workers to new routers round-robin.
func (c *Coordinator) nextWorker() *Worker {
	w := c.workers[c.next]
	c.next = (c.next + 1) % len(c.workers)
	return w
}

// ReportWorkerDeath is the SFU's single fatal condition: the process is
// expected to exit with a non-zero status.
func (c *Coordinator) ReportWorkerDeath(workerID int) {
	c.sugar.Errorf("sfu: worker %d died, this is fatal to the server instance", workerID)
	if c.onFatal != nil {
		c.onFatal(workerID)
	}
}

// routerFor returns the channel's router, creating it lazily on first
// use per spec.md §4.5's router lifecycle rule.
func (c *Coordinator) routerFor(channelID int64) *Router {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.routers[channelID]; ok {
		return r
	}
	r := &Router{
		channelID:   channelID,
		worker:      c.nextWorker(),
		sessions:    make(map[string]*VoiceSession),
		iceServers:  c.iceServers,
		sugar:       c.sugar,
		coordinator: c,
	}
	c.routers[channelID] = r
	c.sugar.Debugf("sfu: created router for channel %d on worker %d", channelID, r.worker.ID)
	return r
}

// releaseRouterIfEmpty destroys a router once its last voice session
// leaves, per spec.md §4.5.
func (c *Coordinator) releaseRouterIfEmpty(channelID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.routers[channelID]
	if !ok {
		return
	}
	if r.sessionCount() == 0 {
		delete(c.routers, channelID)
		c.sugar.Debugf("sfu: destroyed router for channel %d, last voice session left", channelID)
	}
}

// RouterCapabilities is the static capability descriptor returned by
// GET_ROUTER_CAPABILITIES. Reson8 only ever negotiates Opus audio, so
// the descriptor is fixed rather than computed per router.
type RouterCapabilities struct {
	Codecs []CodecCapability `json:"codecs"`
}

type CodecCapability struct {
	MimeType  string `json:"mimeType"`
	ClockRate uint32 `json:"clockRate"`
	Channels  uint16 `json:"channels"`
}

var opusCapability = RouterCapabilities{
	Codecs: []CodecCapability{
		{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
	},
}

// GetRouterCapabilities is step 1 of the voice handshake.
func (c *Coordinator) GetRouterCapabilities(channelID int64) RouterCapabilities {
	c.routerFor(channelID) // side effect: router now exists for this channel
	return opusCapability
}

// ExistingProducer describes one already-producing member of a channel,
// pushed to a newly joined session as EXISTING_PRODUCERS.
type ExistingProducer struct {
	UserID     string `json:"userId"`
	Nickname   string `json:"nickname"`
	ProducerID string `json:"producerId"`
}

// ExistingProducers lists every active producer in channelID except
// excludeUserID's own, per spec.md §4.5.
func (c *Coordinator) ExistingProducers(channelID int64, excludeUserID string, nicknames map[string]string) []ExistingProducer {
	r := c.routerFor(channelID)
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ExistingProducer
	for userID, vs := range r.sessions {
		if userID == excludeUserID || vs.producer == nil {
			continue
		}
		out = append(out, ExistingProducer{
			UserID:     userID,
			Nickname:   nicknames[userID],
			ProducerID: vs.producer.id,
		})
	}
	return out
}

// CreateTransport is step 2 of the voice handshake.
func (c *Coordinator) CreateTransport(channelID int64, userID string, direction Direction) (*TransportInfo, error) {
	r := c.routerFor(channelID)
	return r.createTransport(userID, direction)
}

// ConnectTransport is step 3.
func (c *Coordinator) ConnectTransport(channelID int64, userID string, transportID string, answerSDP string) error {
	r := c.routerFor(channelID)
	return r.connectTransport(userID, transportID, answerSDP)
}

// Produce is step 4. It returns the new producer's id.
func (c *Coordinator) Produce(channelID int64, userID string) (string, error) {
	r := c.routerFor(channelID)
	return r.produce(userID)
}

// Consume is step 5. rtpCapabilities is the consuming client's declared
// capability set, checked against opusCapability before a Consumer is
// created (spec.md:110).
func (c *Coordinator) Consume(channelID int64, userID string, producerID string, rtpCapabilities RouterCapabilities) (*ConsumerInfo, error) {
	r := c.routerFor(channelID)
	return r.consume(userID, producerID, rtpCapabilities)
}

// ResumeConsumer is step 6.
func (c *Coordinator) ResumeConsumer(channelID int64, userID string, consumerID string) error {
	r := c.routerFor(channelID)
	return r.resumeConsumer(userID, consumerID)
}

// CloseProducer implements the CLOSE_PRODUCER event.
func (c *Coordinator) CloseProducer(channelID int64, userID string) (closedProducerID string, ok bool) {
	r := c.routerFor(channelID)
	return r.closeProducer(userID)
}

// LeaveChannel is the session-cleanup routine of spec.md §4.5: releases
// consumers, producer, both transports, removes the session entry, and
// destroys the router if it was the last one.
func (c *Coordinator) LeaveChannel(channelID int64, userID string) {
	c.mu.Lock()
	r, ok := c.routers[channelID]
	c.mu.Unlock()
	if !ok {
		return
	}

	r.removeSession(userID)
	c.releaseRouterIfEmpty(channelID)
}

// supportsOpus reports whether caps declares the router's one codec.
func supportsOpus(caps RouterCapabilities) bool {
	for _, codec := range caps.Codecs {
		if strings.EqualFold(codec.MimeType, webrtc.MimeTypeOpus) {
			return true
		}
	}
	return false
}

// Router is the per-channel SFU object of spec.md §4.5 and §9's glossary
// entry: it owns transports and enforces codec matching between
// producers and consumers by rejecting any CONSUME whose declared
// rtpCapabilities don't include the router's single fixed Opus codec.
type Router struct {
	channelID   int64
	worker      *Worker
	iceServers  []webrtc.ICEServer
	sugar       *zap.SugaredLogger
	coordinator *Coordinator

	mu       sync.Mutex
	sessions map[string]*VoiceSession
}

// closeAllSessions tears down every session this router knows about,
// without touching the Coordinator's own router map — used by
// Coordinator.Close, which has already removed this router from that map.
func (r *Router) closeAllSessions() {
	r.mu.Lock()
	userIDs := make([]string, 0, len(r.sessions))
	for userID := range r.sessions {
		userIDs = append(userIDs, userID)
	}
	r.mu.Unlock()

	for _, userID := range userIDs {
		r.removeSession(userID)
	}
}

func (r *Router) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Router) sessionFor(userID string) *VoiceSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	vs, ok := r.sessions[userID]
	if !ok {
		vs = &VoiceSession{userID: userID, consumers: make(map[string]*Consumer)}
		r.sessions[userID] = vs
	}
	return vs
}

func (r *Router) createTransport(userID string, direction Direction) (*TransportInfo, error) {
	vs := r.sessionFor(userID)

	transport, err := newTransport(direction, r.iceServers)
	if err != nil {
		return nil, fmt.Errorf("sfu: creating %s transport: %w", direction, err)
	}

	vs.mu.Lock()
	if direction == DirectionSend {
		vs.sendTransport = transport
	} else {
		vs.recvTransport = transport
	}
	vs.mu.Unlock()

	offer, err := transport.createOffer()
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (r *Router) connectTransport(userID string, transportID string, answerSDP string) error {
	vs := r.sessionFor(userID)

	vs.mu.Lock()
	transport := vs.transportByID(transportID)
	vs.mu.Unlock()

	if transport == nil {
		return fmt.Errorf("sfu: no transport %s for user %s", transportID, userID)
	}
	return transport.connect(answerSDP)
}

func (r *Router) produce(userID string) (string, error) {
	vs := r.sessionFor(userID)

	vs.mu.Lock()
	transport := vs.sendTransport
	vs.mu.Unlock()
	if transport == nil {
		return "", fmt.Errorf("sfu: user %s has no send transport", userID)
	}

	track, err := transport.takePendingTrack()
	if err != nil {
		return "", err
	}

	producer := &Producer{id: uuid.NewString(), userID: userID, track: track, transport: transport}

	vs.mu.Lock()
	vs.producer = producer
	vs.mu.Unlock()

	// Per spec.md §4.5, the producer reference must clear itself on
	// transport close even without an explicit CLOSE_PRODUCER — an ICE
	// failure here leaves the reference dangling otherwise.
	transport.onUnexpectedClose(func() {
		closedID, ok := r.closeProducer(userID)
		if ok && r.coordinator != nil && r.coordinator.onProducerClosed != nil {
			r.coordinator.onProducerClosed(r.channelID, userID, closedID)
		}
	})

	return producer.id, nil
}

func (r *Router) findProducer(producerID string) (*Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, vs := range r.sessions {
		vs.mu.Lock()
		p := vs.producer
		vs.mu.Unlock()
		if p != nil && p.id == producerID {
			return p, true
		}
	}
	return nil, false
}

func (r *Router) consume(userID string, producerID string, rtpCapabilities RouterCapabilities) (*ConsumerInfo, error) {
	if !supportsOpus(rtpCapabilities) {
		return nil, fmt.Errorf("sfu: rtpCapabilities do not include the router's opus codec")
	}

	producer, ok := r.findProducer(producerID)
	if !ok {
		return nil, fmt.Errorf("sfu: no such producer %s", producerID)
	}

	vs := r.sessionFor(userID)
	vs.mu.Lock()
	transport := vs.recvTransport
	vs.mu.Unlock()
	if transport == nil {
		return nil, fmt.Errorf("sfu: user %s has no recv transport", userID)
	}

	consumer, offer, err := newConsumer(producer, transport)
	if err != nil {
		return nil, err
	}

	vs.mu.Lock()
	vs.consumers[consumer.id] = consumer
	vs.mu.Unlock()

	consumer.onProducerClosed(func() {
		vs.mu.Lock()
		delete(vs.consumers, consumer.id)
		vs.mu.Unlock()
	})

	return &ConsumerInfo{
		ID:          consumer.id,
		ProducerID:  producer.id,
		Kind:        "audio",
		TransportID: offer.ID,
		SDP:         offer.SDP,
	}, nil
}

func (r *Router) resumeConsumer(userID string, consumerID string) error {
	vs := r.sessionFor(userID)

	vs.mu.Lock()
	consumer, ok := vs.consumers[consumerID]
	vs.mu.Unlock()
	if !ok {
		return fmt.Errorf("sfu: no such consumer %s", consumerID)
	}
	consumer.resume()
	return nil
}

func (r *Router) closeProducer(userID string) (string, bool) {
	vs := r.sessionFor(userID)

	vs.mu.Lock()
	producer := vs.producer
	vs.producer = nil
	vs.mu.Unlock()

	if producer == nil {
		return "", false
	}
	producer.close()
	return producer.id, true
}

func (r *Router) removeSession(userID string) {
	r.mu.Lock()
	vs, ok := r.sessions[userID]
	if ok {
		delete(r.sessions, userID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	vs.mu.Lock()
	defer vs.mu.Unlock()

	for _, consumer := range vs.consumers {
		consumer.close()
	}
	if vs.producer != nil {
		vs.producer.close()
	}
	if vs.sendTransport != nil {
		vs.sendTransport.close()
	}
	if vs.recvTransport != nil {
		vs.recvTransport.close()
	}
}

// VoiceSession tracks one user's voice state within a single channel's
// Router. It is owned exclusively by the Session that created it per
// spec.md §5 — no cross-session mutation — but is still guarded by its
// own mutex because the Router's cleanup path and the owning Session's
// handler goroutine can race during disconnect.
type VoiceSession struct {
	userID string

	mu            sync.Mutex
	sendTransport *Transport
	recvTransport *Transport
	producer      *Producer
	consumers     map[string]*Consumer
}

func (vs *VoiceSession) transportByID(id string) *Transport {
	if vs.sendTransport != nil && vs.sendTransport.id == id {
		return vs.sendTransport
	}
	if vs.recvTransport != nil && vs.recvTransport.id == id {
		return vs.recvTransport
	}
	return nil
}

// Direction names a transport's media direction.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)
