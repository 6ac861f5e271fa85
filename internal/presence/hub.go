// Package presence implements the last-value-wins broadcast channel that
// carries live driver positions.
//
// A topic holds one slot per publisher key (the driver id); only the latest
// entry in a slot is meaningful. Subscribers receive a full snapshot the
// moment they subscribe, then incremental update/leave frames. Two topic
// families exist: the fleet-wide topic consumed by the admin map, and
// per-task topics consumed by gate-checked viewers (see internal/authz;
// the channel itself never filters by authorization).
package presence

import (
	"log"
	"sync"
	"time"

	"tadgo-backend/internal/models"
)

// TopicFleet is the unscoped all-drivers topic.
const TopicFleet = "fleet"

// TaskTopic returns the viewer-scoped topic for a single task.
func TaskTopic(taskID string) string {
	return "task:" + taskID
}

// Frame types sent to subscribers.
const (
	FrameSync   = "presence_sync"   // full slot set (on subscribe / resync)
	FrameUpdate = "presence_update" // one slot changed
	FrameLeave  = "presence_leave"  // one slot vacated
)

// Frame is the wire unit delivered to subscribers.
type Frame struct {
	Type  string                           `json:"type"`
	Topic string                           `json:"topic"`
	Slots map[string]models.DriverPosition `json:"slots,omitempty"` // sync only
	Entry *models.DriverPosition           `json:"entry,omitempty"` // update only
	Key   string                           `json:"key,omitempty"`   // update + leave
}

// subscriber is anything that can take frames without blocking the hub.
// deliver returns false when the subscriber cannot keep up; the hub then
// drops it (a full buffer disconnects the client).
type subscriber interface {
	deliver(f *Frame) bool
	closeSlow()
}

type slot struct {
	entry     models.DriverPosition
	refreshed time.Time // server receipt time, drives the staleness sweep
}

type topicState struct {
	slots map[string]*slot
	subs  map[subscriber]struct{}
}

// Hub maintains topics, their slots and their subscribers.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topicState

	// Slots not refreshed within staleAfter are vacated as if the
	// publisher left. Covers ungraceful disconnects the websocket layer
	// never reports.
	staleAfter  time.Duration
	sweepPeriod time.Duration
}

// NewHub creates a presence hub with the default staleness window.
func NewHub() *Hub {
	return &Hub{
		topics:      make(map[string]*topicState),
		staleAfter:  90 * time.Second,
		sweepPeriod: 30 * time.Second,
	}
}

// Run drives the staleness sweeper. Call in a goroutine.
func (h *Hub) Run() {
	ticker := time.NewTicker(h.sweepPeriod)
	defer ticker.Stop()
	for range ticker.C {
		h.sweepStale(time.Now())
	}
}

func (h *Hub) getOrCreate(topic string) *topicState {
	ts, ok := h.topics[topic]
	if !ok {
		ts = &topicState{
			slots: make(map[string]*slot),
			subs:  make(map[subscriber]struct{}),
		}
		h.topics[topic] = ts
	}
	return ts
}

func (h *Hub) dropIfEmpty(topic string, ts *topicState) {
	if len(ts.slots) == 0 && len(ts.subs) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribe registers sub on topic and immediately delivers a sync frame
// with the current full slot set, so a late subscriber is never blind.
// The sync frame is delivered under the hub lock (deliver never blocks), so
// no concurrent publish can enqueue an update ahead of the older snapshot.
func (h *Hub) Subscribe(topic string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts := h.getOrCreate(topic)
	ts.subs[sub] = struct{}{}
	sub.deliver(&Frame{Type: FrameSync, Topic: topic, Slots: snapshotLocked(ts)})
}

// Unsubscribe removes sub from topic.
func (h *Hub) Unsubscribe(topic string, sub subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ts, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(ts.subs, sub)
	h.dropIfEmpty(topic, ts)
}

// Publish upserts the slot keyed by key and fans the update out to every
// current subscriber. Idempotent; delivery is best-effort per subscriber
// with convergence guaranteed by the snapshot-on-subscribe path.
func (h *Hub) Publish(topic, key string, entry models.DriverPosition) {
	h.mu.Lock()
	ts := h.getOrCreate(topic)
	ts.slots[key] = &slot{entry: entry, refreshed: time.Now()}
	subs := subscribersLocked(ts)
	h.mu.Unlock()

	frame := &Frame{Type: FrameUpdate, Topic: topic, Key: key, Entry: &entry}
	h.fanout(topic, subs, frame)
}

// Vacate removes the slot keyed by key; subscribers observe a leave frame,
// distinct from an update.
func (h *Hub) Vacate(topic, key string) {
	h.mu.Lock()
	ts, ok := h.topics[topic]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, present := ts.slots[key]; !present {
		h.mu.Unlock()
		return
	}
	delete(ts.slots, key)
	subs := subscribersLocked(ts)
	h.dropIfEmpty(topic, ts)
	h.mu.Unlock()

	h.fanout(topic, subs, &Frame{Type: FrameLeave, Topic: topic, Key: key})
}

// Snapshot returns a copy of the current slot set for topic.
func (h *Hub) Snapshot(topic string) map[string]models.DriverPosition {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ts, ok := h.topics[topic]
	if !ok {
		return map[string]models.DriverPosition{}
	}
	return snapshotLocked(ts)
}

// Slot returns the current entry for key on topic, if present. The presence
// of a slot is what makes a position "live" as opposed to mirrored.
func (h *Hub) Slot(topic, key string) (models.DriverPosition, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ts, ok := h.topics[topic]
	if !ok {
		return models.DriverPosition{}, false
	}
	s, ok := ts.slots[key]
	if !ok {
		return models.DriverPosition{}, false
	}
	return s.entry, true
}

// SubscriberCount reports how many subscribers a topic currently has.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ts, ok := h.topics[topic]
	if !ok {
		return 0
	}
	return len(ts.subs)
}

// sweepStale vacates every slot whose last refresh is older than the
// staleness window. Split out from Run for tests.
func (h *Hub) sweepStale(now time.Time) {
	type stale struct{ topic, key string }
	var expired []stale

	h.mu.RLock()
	for topic, ts := range h.topics {
		for key, s := range ts.slots {
			if now.Sub(s.refreshed) > h.staleAfter {
				expired = append(expired, stale{topic, key})
			}
		}
	}
	h.mu.RUnlock()

	for _, e := range expired {
		log.Printf("⏱️  Presence slot stale, vacating: topic=%s key=%s", e.topic, e.key)
		h.Vacate(e.topic, e.key)
	}
}

// fanout delivers a frame to subscribers, dropping any that cannot keep up.
func (h *Hub) fanout(topic string, subs []subscriber, frame *Frame) {
	for _, sub := range subs {
		if sub.deliver(frame) {
			continue
		}
		log.Printf("⚠️ Subscriber buffer full, dropping from topic %s", topic)
		h.Unsubscribe(topic, sub)
		sub.closeSlow()
	}
}

func snapshotLocked(ts *topicState) map[string]models.DriverPosition {
	snapshot := make(map[string]models.DriverPosition, len(ts.slots))
	for key, s := range ts.slots {
		snapshot[key] = s.entry
	}
	return snapshot
}

func subscribersLocked(ts *topicState) []subscriber {
	subs := make([]subscriber, 0, len(ts.subs))
	for sub := range ts.subs {
		subs = append(subs, sub)
	}
	return subs
}
