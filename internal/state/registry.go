package state

import (
	"bytes"
	"sort"

	"TimeMarket/internal/errs"

	"github.com/google/uuid"
)

// Registry owns every platform, profile and slot record. It is only touched
// by the core goroutine.
type Registry struct {
	platform *Platform
	profiles map[uuid.UUID]*CreatorProfile
	slots    map[uuid.UUID]*SlotRecord
}

func NewRegistry() *Registry {
	return &Registry{
		profiles: make(map[uuid.UUID]*CreatorProfile),
		slots:    make(map[uuid.UUID]*SlotRecord),
	}
}

// Platform returns the deployment's platform.
func (r *Registry) Platform() (*Platform, error) {
	if r.platform == nil {
		return nil, errs.ErrUnknownPlatform
	}
	return r.platform, nil
}

func (r *Registry) PutPlatform(p *Platform) {
	r.platform = p
}

// Profile returns the stored profile. Callers mutate a Clone.
func (r *Registry) Profile(id uuid.UUID) (*CreatorProfile, error) {
	p, ok := r.profiles[id]
	if !ok {
		return nil, errs.ErrUnknownProfile
	}
	return p, nil
}

func (r *Registry) HasProfile(id uuid.UUID) bool {
	_, ok := r.profiles[id]
	return ok
}

func (r *Registry) PutProfile(p *CreatorProfile) {
	r.profiles[p.ID] = p
}

// Slot returns the stored slot record. Callers mutate a Clone.
func (r *Registry) Slot(id uuid.UUID) (*SlotRecord, error) {
	s, ok := r.slots[id]
	if !ok {
		return nil, errs.ErrUnknownSlot
	}
	return s, nil
}

func (r *Registry) HasSlot(id uuid.UUID) bool {
	_, ok := r.slots[id]
	return ok
}

func (r *Registry) PutSlot(rec *SlotRecord) {
	r.slots[rec.Slot.ID] = rec
}

// SlotIDs returns every slot key in byte order.
func (r *Registry) SlotIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.slots))
	for id := range r.slots {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// ProfileIDs returns every profile key in byte order.
func (r *Registry) ProfileIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
}
