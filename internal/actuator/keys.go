// internal/actuator/keys.go
package actuator

import (
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
)

// keyAliases folds the many spellings vision models emit into one canonical
// name per key.
var keyAliases = map[string]string{
	"control":   "ctrl",
	"ctl":       "ctrl",
	"return":    "enter",
	"escape":    "esc",
	"command":   "meta",
	"cmd":       "meta",
	"win":       "meta",
	"windows":   "meta",
	"super":     "meta",
	"option":    "alt",
	"del":       "delete",
	"ins":       "insert",
	"pgup":      "pageup",
	"pgdn":      "pagedown",
	"spacebar":  "space",
	"caps":      "capslock",
	"up":        "arrowup",
	"down":      "arrowdown",
	"left":      "arrowleft",
	"right":     "arrowright",
}

// cdpKeyNames maps canonical key names to the DOM key values CDP expects.
// Single printable characters pass through unchanged.
var cdpKeyNames = map[string]string{
	"enter":      "Enter",
	"esc":        "Escape",
	"tab":        "Tab",
	"space":      " ",
	"backspace":  "Backspace",
	"delete":     "Delete",
	"insert":     "Insert",
	"home":       "Home",
	"end":        "End",
	"pageup":     "PageUp",
	"pagedown":   "PageDown",
	"capslock":   "CapsLock",
	"arrowup":    "ArrowUp",
	"arrowdown":  "ArrowDown",
	"arrowleft":  "ArrowLeft",
	"arrowright": "ArrowRight",
	"f1":         "F1",
	"f2":         "F2",
	"f3":         "F3",
	"f4":         "F4",
	"f5":         "F5",
	"f6":         "F6",
	"f7":         "F7",
	"f8":         "F8",
	"f9":         "F9",
	"f10":        "F10",
	"f11":        "F11",
	"f12":        "F12",
}

// NormalizeKey canonicalizes one key name.
func NormalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if alias, ok := keyAliases[k]; ok {
		return alias
	}
	return k
}

// NormalizeCombo canonicalizes a key combination in place-order.
func NormalizeCombo(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if n := NormalizeKey(k); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// comboToCDP splits a normalized combination into the CDP modifier bitmask
// and the single non-modifier key. A combination of only modifiers, or with
// more than one main key, is rejected.
func comboToCDP(keys []string) (input.Modifier, string, error) {
	var modifiers input.Modifier
	var main string

	for _, k := range NormalizeCombo(keys) {
		switch k {
		case "ctrl":
			modifiers |= input.ModifierCtrl
		case "alt":
			modifiers |= input.ModifierAlt
		case "shift":
			modifiers |= input.ModifierShift
		case "meta":
			modifiers |= input.ModifierMeta
		default:
			if main != "" {
				return 0, "", fmt.Errorf("combination has more than one non-modifier key: %q and %q", main, k)
			}
			main = k
		}
	}
	if main == "" {
		return 0, "", fmt.Errorf("combination has no non-modifier key")
	}

	if name, ok := cdpKeyNames[main]; ok {
		return modifiers, name, nil
	}
	if len([]rune(main)) == 1 {
		return modifiers, main, nil
	}
	return 0, "", fmt.Errorf("unknown key %q", main)
}
