package sfu

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

// iceGatherTimeout bounds how long CreateTransport waits for ICE
// candidate gathering before giving up, matching the gather-then-publish
// pattern bureau-foundation-bureau/transport/webrtc.go uses for its own
// PeerConnections.
const iceGatherTimeout = 15 * time.Second

// TransportInfo is returned to the client from CREATE_WEBRTC_TRANSPORT.
// pion bundles what mediasoup exposes as three separate JSON objects —
// ICE parameters, ICE candidates, DTLS parameters — into one SDP blob,
// so SDP carries all three; there are no separate ICE/DTLS fields, and
// SDP holds the authoritative offer.
type TransportInfo struct {
	ID   string `json:"id"`
	SDP  string `json:"sdp"`
}

// Transport wraps one pion PeerConnection dedicated to a single
// direction for a single (channel, user) voice session.
type Transport struct {
	id        string
	direction Direction
	pc        *webrtc.PeerConnection

	// negotiateMu serializes every offer/answer cycle on pc: the initial
	// one from createOffer, and any later one a CONSUME-triggered
	// renegotiate produces. Without it a second CONSUME arriving before
	// the first's answer lands could call CreateOffer while pc is still
	// in have-local-offer state.
	negotiateMu sync.Mutex

	mu           sync.Mutex
	pendingTrack *webrtc.TrackRemote
	trackArrived chan struct{}
}

func newTransport(direction Direction, iceServers []webrtc.ICEServer) (*Transport, error) {
	settingEngine := webrtc.SettingEngine{}
	settingEngine.SetIncludeLoopbackCandidate(true)
	api := webrtc.NewAPI(webrtc.WithSettingEngine(settingEngine))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}

	t := &Transport{
		id:           uuid.NewString(),
		direction:    direction,
		pc:           pc,
		trackArrived: make(chan struct{}, 1),
	}

	if direction == DirectionSend {
		// Reson8 only ever sends one audio track per send transport
		// (spec.md §4.5: "stores it as the session's sole producer").
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return nil, err
		}

		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			t.mu.Lock()
			t.pendingTrack = track
			t.mu.Unlock()
			select {
			case t.trackArrived <- struct{}{}:
			default:
			}
		})
	}

	return t, nil
}

// createOffer has the server generate the SDP offer for this transport,
// waiting for ICE gathering to complete before returning it — the
// "vanilla ICE" pattern from bureau-foundation-bureau/transport/webrtc.go.
func (t *Transport) createOffer() (*TransportInfo, error) {
	t.negotiateMu.Lock()
	defer t.negotiateMu.Unlock()
	return t.negotiateLocked()
}

// renegotiate produces a fresh offer after a track has been added to an
// already-negotiated PeerConnection — every CONSUME on a recv transport
// needs one, the first included, since the transport's initial
// offer/answer completed before any consumer existed and pion requires a
// new offer/answer round trip per added track rather than folding it into
// the existing session.
// The caller is responsible for getting the returned offer to the client
// and feeding its answer back through connect.
func (t *Transport) renegotiate() (*TransportInfo, error) {
	t.negotiateMu.Lock()
	defer t.negotiateMu.Unlock()
	return t.negotiateLocked()
}

func (t *Transport) negotiateLocked() (*TransportInfo, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}

	gatherComplete := webrtc.GatheringCompletePromise(t.pc)
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}

	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return nil, fmt.Errorf("sfu: ICE gathering timed out for transport %s", t.id)
	}

	return &TransportInfo{ID: t.id, SDP: t.pc.LocalDescription().SDP}, nil
}

// connect completes a DTLS handshake by applying the client's SDP answer
// as the remote description. It answers both the initial offer from
// CREATE_WEBRTC_TRANSPORT and any later renegotiate offer, since
// CONNECT_TRANSPORT is the single event the client uses to answer either.
func (t *Transport) connect(answerSDP string) error {
	t.negotiateMu.Lock()
	defer t.negotiateMu.Unlock()
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	})
}

// onUnexpectedClose registers fn to run each time this transport's
// PeerConnection's ICE connection moves to Disconnected, Failed or
// Closed, so it can run more than once. An explicit close() also lands
// here via the Closed state, so fn must tolerate being invoked on state
// it has already torn down.
func (t *Transport) onUnexpectedClose(fn func()) {
	t.pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		switch state {
		case webrtc.ICEConnectionStateDisconnected, webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
			fn()
		}
	})
}

// takePendingTrack waits briefly for the remote audio track that
// arrives once the client starts sending, matching PRODUCE's assumption
// that a producer can be created once the transport is connected.
func (t *Transport) takePendingTrack() (*webrtc.TrackRemote, error) {
	t.mu.Lock()
	track := t.pendingTrack
	t.mu.Unlock()
	if track != nil {
		return track, nil
	}

	select {
	case <-t.trackArrived:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("sfu: transport %s produced no track before timeout", t.id)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingTrack, nil
}

func (t *Transport) close() {
	_ = t.pc.Close()
}
