package sfu

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// ConsumerInfo is returned from CONSUME: consumer id, the source
// producer id, its kind, and the renegotiation offer the recv
// transport's PeerConnection generated when this consumer's track was
// added. The client must answer TransportID/SDP through CONNECT_TRANSPORT
// before calling RESUME_CONSUMER, the same way it answers that
// transport's very first offer.
type ConsumerInfo struct {
	ID          string `json:"id"`
	ProducerID  string `json:"producerId"`
	Kind        string `json:"kind"`
	TransportID string `json:"transportId"`
	SDP         string `json:"sdp"`
}

// Consumer is a logical handle on the server for one receiver's
// subscription to a Producer (spec.md glossary). It is created in
// paused state and starts forwarding RTP only once ResumeConsumer is
// called, per the six-step handshake's ordering.
type Consumer struct {
	id         string
	producer   *Producer
	localTrack *webrtc.TrackLocalStaticRTP
	transport  *Transport

	paused atomic.Bool
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

// newConsumer attaches producer's media to transport and renegotiates
// transport's PeerConnection so the new track is actually offered to the
// client — AddTrack alone only changes local state, it does not update
// an already-completed offer/answer exchange. The returned TransportInfo
// is the renegotiation offer the caller must push to the client; without
// an answer to it the added track goes nowhere.
func newConsumer(producer *Producer, transport *Transport) (*Consumer, *TransportInfo, error) {
	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		producer.track.Codec().RTPCodecCapability,
		"audio", "reson8-"+producer.id,
	)
	if err != nil {
		return nil, nil, err
	}

	if _, err := transport.pc.AddTrack(localTrack); err != nil {
		return nil, nil, err
	}

	offer, err := transport.renegotiate()
	if err != nil {
		return nil, nil, err
	}

	c := &Consumer{
		id:         uuid.NewString(),
		producer:   producer,
		localTrack: localTrack,
		transport:  transport,
		done:       make(chan struct{}),
	}
	c.paused.Store(true)

	go c.forward()
	return c, offer, nil
}

// forward copies RTP packets from the producer's remote track to this
// consumer's local track for as long as the consumer is not paused and
// not closed. Real SFU forwarding would also rewrite RTCP/PLI feedback;
// that loop is out of scope here since Reson8's signaling layer has no
// opinion on congestion control.
func (c *Consumer) forward() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		packet, _, err := c.producer.track.ReadRTP()
		if err != nil {
			c.producer.close()
			return
		}

		if c.paused.Load() {
			continue
		}
		if err := c.localTrack.WriteRTP(packet); err != nil {
			return
		}
	}
}

func (c *Consumer) resume() {
	c.paused.Store(false)
}

func (c *Consumer) onProducerClosed(fn func()) {
	c.producer.onClosed(func() {
		c.close()
		fn()
	})
}

func (c *Consumer) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
}
