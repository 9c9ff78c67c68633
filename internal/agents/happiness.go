package agents

import (
	"iter"

	"github.com/talgya/econ-schelling/internal/world"
)

// Age bracket bounds, in years.
const (
	youngBelow = 29 // Young: age < 29
	elderAbove = 64 // Elder: age > 64; working age is (29, 64]
)

var (
	lowFavoredZones = world.ZonesOf(world.ZoneResidential, world.ZoneCommercial)
	industrialZone  = world.ZonesOf(world.ZoneIndustrial)
	residentialZone = world.ZonesOf(world.ZoneResidential)
	commercialZone  = world.ZonesOf(world.ZoneCommercial)
)

// tierRule scores the class-specific part of happiness.
type tierRule func(zone world.Zone, neighbors iter.Seq[*Agent], r *Rules) float64

var tierRules = [NumClasses]tierRule{
	ClassLow:    lowTierHappiness,
	ClassMiddle: middleTierHappiness,
	ClassHigh:   highTierHappiness,
}

// Happiness scores a at its current cell: the tier rule plus age modifiers.
func Happiness(a *Agent, env Env, r *Rules) float64 {
	zone := env.ZoneAt(a.Position)
	neighbors := env.Neighbors(a.Position)
	return tierRules[a.Class](zone, neighbors, r) + ageBonus(a, zone, neighbors, r)
}

// lowTierHappiness rewards density: any neighbor counts.
func lowTierHappiness(zone world.Zone, neighbors iter.Seq[*Agent], r *Rules) float64 {
	h := 0.0
	for range neighbors {
		h += r.Homophily
	}
	if r.inZone(zone, lowFavoredZones) {
		h += 2
	}
	return h
}

func middleTierHappiness(zone world.Zone, neighbors iter.Seq[*Agent], r *Rules) float64 {
	h := 0.0
	for range neighbors {
		h += r.Homophily
	}
	if r.inZone(zone, industrialZone) {
		h -= 1
	} else {
		h += 2
	}
	return h
}

// highTierHappiness seeks high-tier neighbors and avoids low-tier ones.
func highTierHappiness(zone world.Zone, neighbors iter.Seq[*Agent], r *Rules) float64 {
	h := 0.0
	for n := range neighbors {
		switch n.Class {
		case ClassHigh:
			h += r.Homophily
		case ClassLow:
			h -= r.Homophily
		}
	}
	switch {
	case r.inZone(zone, industrialZone):
		h -= 5
	case r.inZone(zone, residentialZone):
		h += 2
	}
	return h
}

// ageBonus applies the additive age-bracket modifiers.
func ageBonus(a *Agent, zone world.Zone, neighbors iter.Seq[*Agent], r *Rules) float64 {
	h := 0.0
	if a.Age < youngBelow && r.inZone(zone, commercialZone) {
		h++
	}
	if a.Age > youngBelow && a.Age <= elderAbove && a.Class == ClassMiddle {
		for n := range neighbors {
			if n.Class == ClassHigh {
				h++
			}
		}
	}
	if a.Age > elderAbove {
		for n := range neighbors {
			if n.Class == a.Class {
				h++
			}
		}
	}
	return h
}

// ScoreBounds returns the lowest and highest happiness any agent can reach
// with up to k neighbors under r. Homophily is assumed non-negative.
func ScoreBounds(r *Rules, k int) (lo, hi float64) {
	nb := float64(k) * r.Homophily
	if r.LegacyZoneMatching {
		return -nb, nb + 2 + float64(k)
	}
	return -nb - 5, nb + 2 + float64(max(k, 1))
}
