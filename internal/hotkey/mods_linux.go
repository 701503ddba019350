//go:build linux

package hotkey

import xhotkey "golang.design/x/hotkey"

func platformModifier(m Modifier) xhotkey.Modifier {
	switch m {
	case ModShift:
		return xhotkey.ModShift
	case ModAlt:
		return xhotkey.Mod1
	case ModMeta:
		return xhotkey.Mod4
	default: // ModCtrl, ModCmdOrCtrl
		return xhotkey.ModCtrl
	}
}
