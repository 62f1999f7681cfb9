package registry

import (
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/lattice-video/signaling/internal/domain"
)

// sweepLoop periodically evicts rooms that have sat empty past
// EmptyThreshold. Reaped-but-still-tenanted rooms are the reaper's job
// (HandleDisconnect's per-participant timer); this loop only tears
// down rooms nobody ever came back to.
func (r *Registry) sweepLoop() {
	defer close(r.sweepDone)
	ticker := time.NewTicker(r.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopSweep:
			return
		case <-ticker.C:
			r.sweepEmptyRooms()
		}
	}
}

func (r *Registry) sweepEmptyRooms() {
	r.mu.RLock()
	candidates := make([]domain.RoomID, 0, len(r.rooms))
	for id := range r.rooms {
		candidates = append(candidates, id)
	}
	r.mu.RUnlock()

	if len(candidates) == 0 {
		return
	}

	toEvict := make(chan domain.RoomID, len(candidates))
	p := pool.New().WithMaxGoroutines(r.opts.MaxSweepWorkers)
	for _, id := range candidates {
		id := id
		p.Go(func() {
			rs, ok := r.getRoom(id)
			if !ok {
				return
			}
			emptySince, idle := rs.idleSince()
			if !idle {
				return
			}
			if time.Since(emptySince) < r.opts.EmptyThreshold {
				return
			}
			toEvict <- id
		})
	}
	p.Wait()
	close(toEvict)

	var evicted int
	for id := range toEvict {
		r.mu.Lock()
		delete(r.rooms, id)
		r.mu.Unlock()
		evicted++
	}
	if evicted > 0 {
		r.log.Info().Int("evicted", evicted).Msg("swept empty rooms")
	}
}
