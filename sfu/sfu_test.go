package sfu

import (
	"testing"

	"go.uber.org/zap"
)

func newTestCoordinator(t *testing.T, numWorkers int) *Coordinator {
	t.Helper()
	c := &Coordinator{
		routers: make(map[int64]*Router),
		sugar:   zap.NewNop().Sugar(),
	}
	c.workers = make([]*Worker, numWorkers)
	for i := range c.workers {
		c.workers[i] = &Worker{ID: i}
	}
	return c
}

func TestNextWorkerRoundRobins(t *testing.T) {
	c := newTestCoordinator(t, 3)

	got := []int{c.nextWorker().ID, c.nextWorker().ID, c.nextWorker().ID, c.nextWorker().ID}
	want := []int{0, 1, 2, 0}

	for i := range want {
		if got[i] != want[i] {
			t.Errorf("worker at call %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRouterForIsLazyAndMemoized(t *testing.T) {
	c := newTestCoordinator(t, 2)

	first := c.routerFor(42)
	second := c.routerFor(42)

	if first != second {
		t.Error("expected routerFor to memoize the router for a given channel")
	}
	if len(c.routers) != 1 {
		t.Errorf("expected exactly one router, got %d", len(c.routers))
	}
}

func TestRouterForAssignsDistinctWorkersRoundRobin(t *testing.T) {
	c := newTestCoordinator(t, 2)

	r1 := c.routerFor(1)
	r2 := c.routerFor(2)

	if r1.worker.ID == r2.worker.ID {
		// with only 2 workers and 2 routers this should differ
		t.Errorf("expected distinct workers for distinct routers, got %d and %d", r1.worker.ID, r2.worker.ID)
	}
}

func TestReleaseRouterIfEmptyDestroysOnlyWhenEmpty(t *testing.T) {
	c := newTestCoordinator(t, 1)

	r := c.routerFor(7)
	r.sessions["u1"] = &VoiceSession{userID: "u1", consumers: map[string]*Consumer{}}

	c.releaseRouterIfEmpty(7)
	if _, ok := c.routers[7]; !ok {
		t.Fatal("router with an active session must not be destroyed")
	}

	delete(r.sessions, "u1")
	c.releaseRouterIfEmpty(7)
	if _, ok := c.routers[7]; ok {
		t.Fatal("router with no sessions left must be destroyed")
	}
}

func TestCloseProducerReportsMissingProducer(t *testing.T) {
	c := newTestCoordinator(t, 1)
	r := c.routerFor(1)
	r.sessions["u1"] = &VoiceSession{userID: "u1", consumers: map[string]*Consumer{}}

	_, ok := r.closeProducer("u1")
	if ok {
		t.Error("expected closeProducer to report false when the session has no producer")
	}
}

func TestSupportsOpusMatchesFixedCodec(t *testing.T) {
	if !supportsOpus(opusCapability) {
		t.Error("expected the router's own capability set to satisfy supportsOpus")
	}
	if supportsOpus(RouterCapabilities{Codecs: []CodecCapability{{MimeType: "video/VP8"}}}) {
		t.Error("expected a non-opus capability set to fail supportsOpus")
	}
	if supportsOpus(RouterCapabilities{}) {
		t.Error("expected an empty capability set to fail supportsOpus")
	}
}

func TestCoordinatorCloseEmptiesRouterMap(t *testing.T) {
	c := newTestCoordinator(t, 1)
	r := c.routerFor(1)
	r.sessions["u1"] = &VoiceSession{userID: "u1", consumers: map[string]*Consumer{}}

	c.Close()

	if len(c.routers) != 0 {
		t.Errorf("expected Close to empty the router map, got %d routers left", len(c.routers))
	}
}

func TestProducerAttributionSurvivesConsumerSideClose(t *testing.T) {
	producer := &Producer{id: "p1", userID: "alice"}

	var notifiedUserID string
	producer.onClosed(func() { notifiedUserID = producer.userID })

	producer.closed = true // simulate close() without a real transport
	for _, fn := range producer.listeners {
		fn()
	}

	if notifiedUserID != "alice" {
		t.Errorf("expected PRODUCER_CLOSED path to retain userId alice, got %q", notifiedUserID)
	}
}
