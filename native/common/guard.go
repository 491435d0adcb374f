package common

import "errors"

var ErrModulePaused = errors.New("module paused")

type PauseView interface {
	IsPaused(module string) bool
}

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a fixed set of paused module names.
type PauseSet map[string]bool

// NewPauseSet builds a PauseSet from module names.
func NewPauseSet(modules ...string) PauseSet {
	out := make(PauseSet, len(modules))
	for _, m := range modules {
		if m != "" {
			out[m] = true
		}
	}
	return out
}

func (p PauseSet) IsPaused(module string) bool { return p[module] }
