package hotkey

import (
	"fmt"
	"sync"

	xhotkey "golang.design/x/hotkey"
)

var keyCodes = map[string]xhotkey.Key{
	"A": xhotkey.KeyA, "B": xhotkey.KeyB, "C": xhotkey.KeyC,
	"D": xhotkey.KeyD, "E": xhotkey.KeyE, "F": xhotkey.KeyF,
	"G": xhotkey.KeyG, "H": xhotkey.KeyH, "I": xhotkey.KeyI,
	"J": xhotkey.KeyJ, "K": xhotkey.KeyK, "L": xhotkey.KeyL,
	"M": xhotkey.KeyM, "N": xhotkey.KeyN, "O": xhotkey.KeyO,
	"P": xhotkey.KeyP, "Q": xhotkey.KeyQ, "R": xhotkey.KeyR,
	"S": xhotkey.KeyS, "T": xhotkey.KeyT, "U": xhotkey.KeyU,
	"V": xhotkey.KeyV, "W": xhotkey.KeyW, "X": xhotkey.KeyX,
	"Y": xhotkey.KeyY, "Z": xhotkey.KeyZ,
	"0": xhotkey.Key0, "1": xhotkey.Key1, "2": xhotkey.Key2,
	"3": xhotkey.Key3, "4": xhotkey.Key4, "5": xhotkey.Key5,
	"6": xhotkey.Key6, "7": xhotkey.Key7, "8": xhotkey.Key8,
	"9": xhotkey.Key9,
	"F1": xhotkey.KeyF1, "F2": xhotkey.KeyF2, "F3": xhotkey.KeyF3,
	"F4": xhotkey.KeyF4, "F5": xhotkey.KeyF5, "F6": xhotkey.KeyF6,
	"F7": xhotkey.KeyF7, "F8": xhotkey.KeyF8, "F9": xhotkey.KeyF9,
	"F10": xhotkey.KeyF10, "F11": xhotkey.KeyF11, "F12": xhotkey.KeyF12,
	"SPACE":  xhotkey.KeySpace,
	"ENTER":  xhotkey.KeyReturn,
	"ESCAPE": xhotkey.KeyEscape,
}

// SystemRegistrar registers global hotkeys with the OS. Registering a
// new binding unregisters the previous one first, so a hotkey change
// from settings swaps cleanly.
//
// The golang.design/x/hotkey backend needs a display session at
// process start (X11 on Linux); headless use requires a virtual
// display such as Xvfb.
type SystemRegistrar struct {
	mu         sync.Mutex
	generation int
	unregister func()
}

// NewSystemRegistrar returns an OS-backed Registrar.
func NewSystemRegistrar() *SystemRegistrar {
	return &SystemRegistrar{}
}

// Register implements Registrar.
func (r *SystemRegistrar) Register(b Binding, fn func()) (func(), error) {
	key, ok := keyCodes[b.Key]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported key %q", ErrInvalidBinding, b.Key)
	}

	mods := make([]xhotkey.Modifier, 0, len(b.Mods))
	for _, m := range b.Mods {
		mods = append(mods, platformModifier(m))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unregister != nil {
		r.unregister()
		r.unregister = nil
	}

	hk := xhotkey.New(mods, key)
	if err := hk.Register(); err != nil {
		return nil, fmt.Errorf("register hotkey %s: %w", b, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case <-hk.Keydown():
				fn()
			}
		}
	}()

	r.generation++
	gen := r.generation
	r.unregister = func() {
		close(done)
		hk.Unregister()
	}

	// Stale unregister calls (the binding was already replaced) are
	// no-ops.
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation == gen && r.unregister != nil {
			r.unregister()
			r.unregister = nil
		}
	}, nil
}
