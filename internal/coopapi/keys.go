package coopapi

import "strings"

// keysToBytes converts named key sequences to raw PTY input bytes.
// Unrecognized key names are passed through as their literal bytes
// rather than rejected. Ported from original_source transport/mod.rs
// keys_to_bytes.
func keysToBytes(keys []string) []byte {
	var out []byte
	for _, key := range keys {
		switch key {
		case "Enter", "Return":
			out = append(out, '\r')
		case "Tab":
			out = append(out, '\t')
		case "Escape", "Esc":
			out = append(out, 0x1b)
		case "Backspace":
			out = append(out, 0x7f)
		case "Delete":
			out = append(out, "\x1b[3~"...)
		case "Up":
			out = append(out, "\x1b[A"...)
		case "Down":
			out = append(out, "\x1b[B"...)
		case "Right":
			out = append(out, "\x1b[C"...)
		case "Left":
			out = append(out, "\x1b[D"...)
		case "Home":
			out = append(out, "\x1b[H"...)
		case "End":
			out = append(out, "\x1b[F"...)
		case "PageUp":
			out = append(out, "\x1b[5~"...)
		case "PageDown":
			out = append(out, "\x1b[6~"...)
		case "Space":
			out = append(out, ' ')
		default:
			lower := strings.ToLower(key)
			if strings.HasPrefix(lower, "ctrl-") && len(key) > len("ctrl-") {
				ch := key[len(key)-1]
				out = append(out, toUpperByte(ch)-'@')
				continue
			}
			out = append(out, key...)
		}
	}
	return out
}

func toUpperByte(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - ('a' - 'A')
	}
	return b
}
