package domain

import "sort"

type Beat struct {
	ID        int64
	Title     string
	Genre     string
	Mood      string
	Price     float64
	Exclusive bool
}

type Bundle struct {
	ID     int64
	Name   string
	Price  float64
	Active bool
	Beats  []Beat
}

// ExclusiveBeatIDs returns the ids of the bundle's exclusive members in
// ascending order. Acquiring in a fixed order keeps two coordinators racing
// on overlapping bundles from livelocking each other.
func (b Bundle) ExclusiveBeatIDs() []int64 {
	var ids []int64
	for _, beat := range b.Beats {
		if beat.Exclusive {
			ids = append(ids, beat.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
