//go:build darwin

package hotkey

import xhotkey "golang.design/x/hotkey"

func platformModifier(m Modifier) xhotkey.Modifier {
	switch m {
	case ModCtrl:
		return xhotkey.ModCtrl
	case ModShift:
		return xhotkey.ModShift
	case ModAlt:
		return xhotkey.ModOption
	default: // ModMeta, ModCmdOrCtrl
		return xhotkey.ModCmd
	}
}
