package hub

import (
	"encoding/json"
	"time"

	"github.com/codeready-toolchain/labrun/pkg/models"
)

// Window is the interval within which structurally identical events
// collapse to one.
const Window = time.Second

// dedupWindow suppresses events whose (eventType, canonical payload JSON)
// was seen within the window. Wall-clock based. Only touched from the
// hub's event loop.
type dedupWindow struct {
	window   time.Duration
	lastSeen map[string]time.Time
	now      func() time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{
		window:   window,
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
	}
}

// suppress reports whether the event is a duplicate within the window.
// A non-suppressed event refreshes its key.
func (d *dedupWindow) suppress(ev *models.UnifiedEvent) bool {
	key := d.key(ev)
	now := d.now()

	if last, ok := d.lastSeen[key]; ok && now.Sub(last) < d.window {
		return true
	}
	d.lastSeen[key] = now

	// Opportunistic sweep keeps the map proportional to recent activity.
	if len(d.lastSeen) > 4096 {
		for k, t := range d.lastSeen {
			if now.Sub(t) >= d.window {
				delete(d.lastSeen, k)
			}
		}
	}
	return false
}

// key builds the dedup key. Payloads are structs with deterministic field
// order, so their JSON encoding is canonical.
func (d *dedupWindow) key(ev *models.UnifiedEvent) string {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		// Unmarshalable payloads never collide.
		return string(ev.EventType) + "|" + time.Now().String()
	}
	return string(ev.EventType) + "|" + string(payload)
}
