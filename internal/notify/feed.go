package notify

import (
	"github.com/nerrad567/sentinel-core/internal/channel"
	"github.com/nerrad567/sentinel-core/internal/entity"
	"github.com/nerrad567/sentinel-core/internal/reconcile"
)

// StoreFeed passes every change the store accepts to its handlers, in
// commit order. Registered with store.AddEventListener it sees each change
// exactly once, whatever happens to event subscribers.
type StoreFeed []reconcile.Handler

// OnEvent implements store.EventListener.
func (f StoreFeed) OnEvent(before, after *entity.Snapshot, ev channel.Event) {
	a := reconcile.Applied{Event: ev, Before: before, After: after}
	for _, h := range f {
		h.HandleApplied(a)
	}
}
