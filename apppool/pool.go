package apppool

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	autherrors "github.com/tomzdev/spotify-migration-tool/internal/errors"
	"github.com/tomzdev/spotify-migration-tool/internal/utils"
)

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Pool distributes users across registered slots and keeps the per-slot counters
// consistent with the binding table. Every mutation runs under one mutex and is
// persisted before it returns.
type Pool struct {
	mu       sync.Mutex
	slots    []*Slot // registration order
	index    map[string]*Slot
	bindings map[string]string // userID -> slotID
	repo     Repo
	logger   zerolog.Logger
}

// New builds the pool from the configured slots and reloads the persisted snapshot.
// Bindings are the source of truth on reload: counters are recomputed from them, and a
// disagreeing counter snapshot is logged and overwritten.
func New(ctx context.Context, slots []Slot, repo Repo, logger zerolog.Logger) (*Pool, error) {
	if repo == nil {
		return nil, errors.New("[apppool.New] repo is required")
	}

	p := &Pool{
		index:    make(map[string]*Slot, len(slots)),
		bindings: make(map[string]string),
		repo:     repo,
		logger:   logger.With().Str("component", "apppool").Logger(),
	}
	for _, s := range slots {
		if s.ID == "" {
			return nil, errors.New("[apppool.New] slot id is required")
		}
		if _, dup := p.index[s.ID]; dup {
			return nil, errors.Errorf("[apppool.New] duplicate slot id %q", s.ID)
		}
		slot := s
		slot.CurrentUsers = 0
		p.slots = append(p.slots, &slot)
		p.index[slot.ID] = &slot
	}

	snapshot, err := repo.Load(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "[apppool.New] repo.Load")
	}
	if p.reconcile(snapshot) {
		if err := p.saveLocked(ctx); err != nil {
			return nil, errors.Wrap(err, "[apppool.New] save reconciled snapshot")
		}
	}
	return p, nil
}

// reconcile loads the bindings and recomputes the counters, reporting whether the
// persisted counters disagreed.
func (p *Pool) reconcile(snapshot Snapshot) bool {
	for userID, slotID := range snapshot.Bindings {
		p.bindings[userID] = slotID
		slot, ok := p.index[slotID]
		if !ok {
			// Kept so the user returns to the same slot if it is configured again.
			p.logger.Warn().Str("user", userID).Str("slot", slotID).Msg("binding refers to an unconfigured slot")
			continue
		}
		slot.CurrentUsers++
	}

	drift := false
	for _, slot := range p.slots {
		if persisted := snapshot.Counters[slot.ID]; persisted != slot.CurrentUsers {
			drift = true
			p.logger.Warn().
				Str("slot", slot.ID).
				Int("persisted", persisted).
				Int("bindings", slot.CurrentUsers).
				Msg("counter snapshot disagrees with bindings, using bindings")
		}
	}
	return drift
}

// GetAvailableSlot returns the first active slot with spare capacity in registration
// order, or the least loaded active slot when every slot is full.
func (p *Pool) GetAvailableSlot() (Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, err := p.availableLocked()
	if err != nil {
		return Slot{}, err
	}
	return *slot, nil
}

func (p *Pool) availableLocked() (*Slot, error) {
	var leastLoaded *Slot
	for _, slot := range p.slots {
		if !slot.Active {
			continue
		}
		if slot.CurrentUsers < slot.MaxUsers {
			return slot, nil
		}
		if leastLoaded == nil || slot.CurrentUsers < leastLoaded.CurrentUsers {
			leastLoaded = slot
		}
	}
	if leastLoaded == nil {
		return nil, autherrors.ErrPoolExhausted
	}
	p.logger.Warn().
		Str("slot", leastLoaded.ID).
		Int("users", leastLoaded.CurrentUsers).
		Int("capacity", leastLoaded.MaxUsers).
		Msg("all slots full, overflowing onto least loaded slot")
	return leastLoaded, nil
}

// AssignUser binds the user to slotID when given, otherwise keeps an existing binding to
// an active slot or picks one with GetAvailableSlot. Moving a user releases the old slot.
func (p *Pool) AssignUser(ctx context.Context, userID string, slotID *string) (Slot, error) {
	if userID == "" {
		return Slot{}, errors.New("[Pool.AssignUser] userID is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	prevID, bound := p.bindings[userID]

	var target *Slot
	if slotID != nil {
		var ok bool
		if target, ok = p.index[utils.Value(slotID)]; !ok {
			return Slot{}, errors.Wrapf(autherrors.ErrUnknownSlot, "[Pool.AssignUser] slot %q", utils.Value(slotID))
		}
	} else if current, ok := p.index[prevID]; bound && ok && current.Active {
		target = current
	} else {
		var err error
		if target, err = p.availableLocked(); err != nil {
			return Slot{}, errors.Wrap(err, "[Pool.AssignUser]")
		}
	}

	if bound && prevID == target.ID {
		return *target, nil
	}

	prevSlot := p.index[prevID] // nil when unbound or bound to an unconfigured slot
	var prevCount int
	if prevSlot != nil {
		prevCount = prevSlot.CurrentUsers
		prevSlot.CurrentUsers = max(0, prevSlot.CurrentUsers-1)
	}
	p.bindings[userID] = target.ID
	target.CurrentUsers++

	if err := p.saveLocked(ctx); err != nil {
		target.CurrentUsers--
		if prevSlot != nil {
			prevSlot.CurrentUsers = prevCount
		}
		if bound {
			p.bindings[userID] = prevID
		} else {
			delete(p.bindings, userID)
		}
		return Slot{}, errors.Wrap(err, "[Pool.AssignUser] save")
	}

	event := p.logger.Info().Str("user", userID).Str("slot", target.ID).Int("users", target.CurrentUsers)
	if bound {
		event = event.Str("previous", prevID)
	}
	event.Msg("user assigned to slot")
	return *target, nil
}

// GetUserSlot returns the slot the user is bound to, or the slot a new user would get.
// It never creates a binding.
func (p *Pool) GetUserSlot(userID string) (Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if slotID, ok := p.bindings[userID]; ok {
		if slot, ok := p.index[slotID]; ok {
			return *slot, nil
		}
	}
	slot, err := p.availableLocked()
	if err != nil {
		return Slot{}, err
	}
	return *slot, nil
}

// CredentialsFor returns the client credentials the user should authenticate with.
func (p *Pool) CredentialsFor(userID string) (Credentials, error) {
	slot, err := p.GetUserSlot(userID)
	if err != nil {
		return Credentials{}, err
	}
	return slot.Credentials(), nil
}

// SlotByID looks a slot up regardless of its active flag.
func (p *Pool) SlotByID(slotID string) (Slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.index[slotID]
	if !ok {
		return Slot{}, errors.Wrapf(autherrors.ErrUnknownSlot, "[Pool.SlotByID] slot %q", slotID)
	}
	return *slot, nil
}

// ReleaseUser removes the user's binding and frees their place on the slot.
// Releasing an unbound user is a no-op.
func (p *Pool) ReleaseUser(ctx context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slotID, ok := p.bindings[userID]
	if !ok {
		return nil
	}

	slot := p.index[slotID]
	var prevCount int
	if slot != nil {
		prevCount = slot.CurrentUsers
		slot.CurrentUsers = max(0, slot.CurrentUsers-1)
	}
	delete(p.bindings, userID)

	if err := p.saveLocked(ctx); err != nil {
		p.bindings[userID] = slotID
		if slot != nil {
			slot.CurrentUsers = prevCount
		}
		return errors.Wrap(err, "[Pool.ReleaseUser] save")
	}

	p.logger.Info().Str("user", userID).Str("slot", slotID).Msg("user released from slot")
	return nil
}

// SetActive toggles whether a slot is offered to new users. Existing bindings are kept.
func (p *Pool) SetActive(slotID string, active bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	slot, ok := p.index[slotID]
	if !ok {
		return errors.Wrapf(autherrors.ErrUnknownSlot, "[Pool.SetActive] slot %q", slotID)
	}
	slot.Active = active
	p.logger.Info().Str("slot", slotID).Bool("active", active).Msg("slot activation changed")
	return nil
}

// Bindings returns a copy of the binding table.
func (p *Pool) Bindings() map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]string, len(p.bindings))
	for k, v := range p.bindings {
		out[k] = v
	}
	return out
}

// Slots returns copies of all slots in registration order.
func (p *Pool) Slots() []Slot {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Slot, 0, len(p.slots))
	for _, s := range p.slots {
		out = append(out, *s)
	}
	return out
}

func (p *Pool) saveLocked(ctx context.Context) error {
	snapshot := NewSnapshot()
	for userID, slotID := range p.bindings {
		snapshot.Bindings[userID] = slotID
	}
	for _, s := range p.slots {
		snapshot.Counters[s.ID] = s.CurrentUsers
	}
	snapshot.LastUpdated = NowTimeFunc().UTC()
	return p.repo.Save(ctx, snapshot)
}
