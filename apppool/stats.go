package apppool

import "math"

// Stats is a read-only usage snapshot of the pool.
type Stats struct {
	TotalUsers         int         `json:"totalUsers"`
	TotalCapacity      int         `json:"totalCapacity"`
	UtilizationPercent float64     `json:"utilizationPercent"`
	PerSlot            []SlotStats `json:"perSlot"`
}

type SlotStats struct {
	ID                 string  `json:"id"`
	Users              int     `json:"users"`
	Capacity           int     `json:"capacity"`
	UtilizationPercent float64 `json:"utilizationPercent"`
	Active             bool    `json:"active"`
}

// Overload reports a slot holding more users than its quota.
type Overload struct {
	SlotID   string `json:"slotId"`
	Users    int    `json:"users"`
	Capacity int    `json:"capacity"`
	Excess   int    `json:"excess"`
}

// UsageStats reports per-slot and total utilization. It has no side effects.
func (p *Pool) UsageStats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := Stats{PerSlot: make([]SlotStats, 0, len(p.slots))}
	for _, s := range p.slots {
		stats.TotalUsers += s.CurrentUsers
		stats.TotalCapacity += s.MaxUsers
		stats.PerSlot = append(stats.PerSlot, SlotStats{
			ID:                 s.ID,
			Users:              s.CurrentUsers,
			Capacity:           s.MaxUsers,
			UtilizationPercent: percent(s.CurrentUsers, s.MaxUsers),
			Active:             s.Active,
		})
	}
	stats.UtilizationPercent = percent(stats.TotalUsers, stats.TotalCapacity)
	return stats
}

// Overloaded lists the slots that overflow assignment pushed past their quota.
func (p *Pool) Overloaded() []Overload {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Overload
	for _, s := range p.slots {
		if s.CurrentUsers > s.MaxUsers {
			out = append(out, Overload{
				SlotID:   s.ID,
				Users:    s.CurrentUsers,
				Capacity: s.MaxUsers,
				Excess:   s.CurrentUsers - s.MaxUsers,
			})
		}
	}
	return out
}

// percent rounds to one decimal place.
func percent(used, capacity int) float64 {
	if capacity <= 0 {
		return 0
	}
	return math.Round(float64(used)/float64(capacity)*1000) / 10
}
