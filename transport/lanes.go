// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"sort"
	"sync"
	"time"
)

// LaneSet hands out one Lane per bus name. Lanes are never removed.
type LaneSet struct {
	timeout time.Duration

	mu    sync.Mutex
	lanes map[string]*Lane
}

func NewLaneSet(timeout time.Duration) *LaneSet {
	return &LaneSet{
		timeout: timeout,
		lanes:   make(map[string]*Lane),
	}
}

// Get returns the lane for name, creating it on first use.
func (s *LaneSet) Get(name string) *Lane {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.lanes[name]
	if !ok {
		l = NewLane(name, s.timeout)
		s.lanes[name] = l
	}
	return l
}

func (s *LaneSet) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.lanes))
	for name := range s.lanes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
