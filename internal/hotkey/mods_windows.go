//go:build windows

package hotkey

import xhotkey "golang.design/x/hotkey"

func platformModifier(m Modifier) xhotkey.Modifier {
	switch m {
	case ModShift:
		return xhotkey.ModShift
	case ModAlt:
		return xhotkey.ModAlt
	case ModMeta:
		return xhotkey.ModWin
	default: // ModCtrl, ModCmdOrCtrl
		return xhotkey.ModCtrl
	}
}
