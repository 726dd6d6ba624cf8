package hotkey

import (
	"strings"
	"sync"

	gohook "github.com/robotn/gohook"

	"snapcrop/src/logutil"
)

// Listen registers a global hotkey combination and invokes callback each
// time the full combination is pressed. The callback must return quickly;
// long work belongs on the event loop.
func Listen(combo string, callback func()) {
	log := logutil.WithComponent("hotkey")

	keys := parseCombo(combo)
	type keyState struct {
		name     string
		rawcodes []uint16
		pressed  bool
	}
	var states []keyState
	for _, name := range keys {
		raw := rawcodesFor(name)
		if len(raw) == 0 {
			log.Error().Str("key", name).Msg("Unmappable key in hotkey combination")
			continue
		}
		states = append(states, keyState{name: name, rawcodes: raw})
	}
	if len(states) == 0 {
		log.Error().Str("combo", combo).Msg("No usable keys in hotkey combination")
		return
	}
	log.Info().Str("combo", combo).Msg("Hotkey listener configured")

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Hotkey goroutine panicked")
			}
		}()

		evChan := gohook.Start()
		if evChan == nil {
			log.Error().Msg("Hook event channel unavailable")
			return
		}

		var mu sync.Mutex
		match := func(raw uint16) int {
			for i := range states {
				for _, rc := range states[i].rawcodes {
					if rc == raw {
						return i
					}
				}
			}
			return -1
		}

		for ev := range evChan {
			switch ev.Kind {
			case gohook.KeyDown, gohook.KeyHold:
				mu.Lock()
				if i := match(ev.Rawcode); i >= 0 && !states[i].pressed {
					states[i].pressed = true
					all := true
					for j := range states {
						if !states[j].pressed {
							all = false
							break
						}
					}
					if all {
						mu.Unlock()
						log.Debug().Str("combo", combo).Msg("Hotkey triggered")
						callback()
						continue
					}
				}
				mu.Unlock()
			case gohook.KeyUp:
				mu.Lock()
				if i := match(ev.Rawcode); i >= 0 {
					states[i].pressed = false
				}
				mu.Unlock()
			}
		}
	}()
}

func parseCombo(combo string) []string {
	var keys []string
	for _, part := range strings.Split(combo, "+") {
		k := strings.ToLower(strings.TrimSpace(part))
		switch k {
		case "control":
			k = "ctrl"
		case "option":
			k = "alt"
		case "super", "cmd", "meta":
			k = "win"
		}
		if k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// rawcodesFor maps a key name to its virtual-key rawcodes. Modifiers map
// to both their left and right variants.
func rawcodesFor(name string) []uint16 {
	switch name {
	case "ctrl":
		return []uint16{162, 163}
	case "alt":
		return []uint16{164, 165}
	case "shift":
		return []uint16{160, 161}
	case "win":
		return []uint16{91, 92}
	case "space":
		return []uint16{32}
	case "enter", "return":
		return []uint16{13}
	case "esc", "escape":
		return []uint16{27}
	case "tab":
		return []uint16{9}
	case "printscreen", "prtsc":
		return []uint16{44}
	}
	if len(name) == 1 {
		c := name[0]
		switch {
		case c >= 'a' && c <= 'z':
			return []uint16{uint16(c - 'a' + 'A')}
		case c >= '0' && c <= '9':
			return []uint16{uint16(c)}
		}
	}
	if strings.HasPrefix(name, "f") && len(name) <= 3 {
		n := 0
		for _, r := range name[1:] {
			if r < '0' || r > '9' {
				return nil
			}
			n = n*10 + int(r-'0')
		}
		if n >= 1 && n <= 24 {
			return []uint16{uint16(111 + n)}
		}
	}
	return nil
}
