// Package hotkey parses, validates and registers the global capture
// hotkey. Parsing is pure so bindings can be tested without touching
// the OS.
package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidBinding is returned for a binding string that cannot be
// parsed. It is surfaced synchronously from test/register commands
// and never crashes the watcher.
var ErrInvalidBinding = errors.New("invalid hotkey binding")

// Modifier is a platform-independent modifier name.
type Modifier int

const (
	ModCtrl Modifier = iota
	ModShift
	ModAlt
	ModMeta
	// ModCmdOrCtrl resolves to the command key on macOS and control
	// elsewhere, matching the UI's "CommandOrControl" spelling.
	ModCmdOrCtrl
)

func (m Modifier) String() string {
	switch m {
	case ModCtrl:
		return "Control"
	case ModShift:
		return "Shift"
	case ModAlt:
		return "Alt"
	case ModMeta:
		return "Meta"
	case ModCmdOrCtrl:
		return "CommandOrControl"
	default:
		return "?"
	}
}

// Binding is a parsed hotkey: a modifier set plus one key.
type Binding struct {
	Mods []Modifier
	Key  string
}

// String renders the canonical binding form, e.g. "Control+Shift+S".
func (b Binding) String() string {
	parts := make([]string, 0, len(b.Mods)+1)
	for _, m := range b.Mods {
		parts = append(parts, m.String())
	}
	return strings.Join(append(parts, b.Key), "+")
}

var modifierNames = map[string]Modifier{
	"CONTROL":          ModCtrl,
	"CTRL":             ModCtrl,
	"SHIFT":            ModShift,
	"ALT":              ModAlt,
	"OPTION":           ModAlt,
	"META":             ModMeta,
	"CMD":              ModMeta,
	"COMMAND":          ModMeta,
	"SUPER":            ModMeta,
	"COMMANDORCONTROL": ModCmdOrCtrl,
}

// Parse turns a binding string like "CommandOrControl+Shift+S" into a
// Binding. Exactly one non-modifier key is required.
func Parse(s string) (Binding, error) {
	var b Binding
	if strings.TrimSpace(s) == "" {
		return b, fmt.Errorf("%w: empty", ErrInvalidBinding)
	}

	for _, part := range strings.Split(s, "+") {
		part = strings.TrimSpace(part)
		if part == "" {
			return Binding{}, fmt.Errorf("%w: empty component in %q", ErrInvalidBinding, s)
		}
		upper := strings.ToUpper(part)

		if mod, ok := modifierNames[upper]; ok {
			b.Mods = append(b.Mods, mod)
			continue
		}

		if b.Key != "" {
			return Binding{}, fmt.Errorf("%w: more than one key in %q", ErrInvalidBinding, s)
		}
		if !validKey(upper) {
			return Binding{}, fmt.Errorf("%w: unsupported key %q", ErrInvalidBinding, part)
		}
		b.Key = upper
	}

	if b.Key == "" {
		return Binding{}, fmt.Errorf("%w: no key specified in %q", ErrInvalidBinding, s)
	}
	return b, nil
}

// Test validates a binding string without registering it.
func Test(s string) error {
	_, err := Parse(s)
	return err
}

func validKey(k string) bool {
	if len(k) == 1 {
		c := k[0]
		return (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	}
	switch k {
	case "SPACE", "ENTER", "ESCAPE":
		return true
	}
	if strings.HasPrefix(k, "F") && len(k) <= 3 {
		switch k {
		case "F1", "F2", "F3", "F4", "F5", "F6",
			"F7", "F8", "F9", "F10", "F11", "F12":
			return true
		}
	}
	return false
}

// Registrar binds a hotkey to a callback. Register replaces any
// binding previously registered through the same Registrar and
// returns an unregister function.
type Registrar interface {
	Register(b Binding, fn func()) (func(), error)
}
