package repository

import "sync/atomic"

type atomicGeneration struct {
	p atomic.Pointer[Generation]
}

func (a *atomicGeneration) load() *Generation {
	if g := a.p.Load(); g != nil {
		return g
	}
	return empty
}

func (a *atomicGeneration) store(g *Generation) {
	a.p.Store(g)
}
