package wire

import (
	"strings"
)

// maxPointerHops bounds the number of 0xC0 compression-pointer jumps
// followed while decoding a single name. Any real message resolves a name
// in a handful of hops; this is a generous but finite cap so a corrupt
// packet cannot spin the decoder forever.
const maxPointerHops = 128

// maxNameOctets is the RFC 1035 §3.1 limit on an encoded name.
const maxNameOctets = 255

// decodeName reads a (possibly compressed) name starting at off and
// returns the dot-joined presentation string plus the offset immediately
// following the name *in the original, non-pointer-followed stream*
// (pointer follows never advance the caller's cursor).
func decodeName(buf []byte, off int) (string, int, error) {
	var labels []string
	cursor := off
	hops := 0
	totalLen := 0
	endOff := -1 // offset right after the name in the caller's stream

	for {
		if cursor < 0 || cursor >= len(buf) {
			return "", 0, malformed(ErrTruncatedBuffer, false, 0)
		}
		lead := buf[cursor]

		switch {
		case lead == 0x00:
			if endOff == -1 {
				endOff = cursor + 1
			}
			if len(labels) == 0 {
				return ".", endOff, nil
			}
			return strings.Join(labels, "."), endOff, nil

		case lead&0xC0 == 0xC0:
			// Pointer: 14-bit offset into the buffer, must point strictly
			// backward into already-parsed bytes.
			if cursor+1 >= len(buf) {
				return "", 0, malformed(ErrTruncatedBuffer, false, 0)
			}
			ptr := int(lead&0x3F)<<8 | int(buf[cursor+1])
			if endOff == -1 {
				endOff = cursor + 2
			}
			if ptr >= cursor {
				return "", 0, malformed(ErrCompressionLoop, false, 0)
			}
			hops++
			if hops > maxPointerHops {
				return "", 0, malformed(ErrCompressionLoop, false, 0)
			}
			cursor = ptr

		case lead&0xC0 != 0:
			// 0x40/0x80 lead bits are reserved (EDNS0 extended label types
			// in some drafts, never standardized); treat as malformed.
			return "", 0, malformed(ErrMalformed, false, 0)

		default:
			labelLen := int(lead)
			start := cursor + 1
			end := start + labelLen
			if end > len(buf) {
				return "", 0, malformed(ErrTruncatedBuffer, false, 0)
			}
			totalLen += labelLen + 1
			if totalLen > maxNameOctets {
				return "", 0, malformed(ErrNameTooLong, false, 0)
			}
			labels = append(labels, escapeLabel(buf[start:end]))
			cursor = end
		}
	}
}

// escapeLabel renders a raw label as presentation text, escaping the
// characters that are special in presentation format (RFC 1035 §5.1).
func escapeLabel(b []byte) string {
	needsEscape := false
	for _, c := range b {
		if c == '.' || c == '\\' || c < 0x20 || c == 0x7f {
			needsEscape = true
			break
		}
	}
	if !needsEscape {
		return string(b)
	}
	var sb strings.Builder
	for _, c := range b {
		switch {
		case c == '.' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c < 0x20 || c == 0x7f:
			sb.WriteString("\\x")
			const hex = "0123456789abcdef"
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0xf])
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

// splitLabels splits a presentation-format name on unescaped dots.
func splitLabels(name string) []string {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return nil
	}
	var labels []string
	var cur strings.Builder
	escaped := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		if escaped {
			cur.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '.' {
			labels = append(labels, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	labels = append(labels, cur.String())
	return labels
}

// encodeName appends the wire encoding of name to buf, optionally reusing
// a previously-written suffix via c's offset table. Compression is a MAY
// ; correctness does not depend on it, but it keeps
// encoded messages small the way every real resolver does it.
func encodeName(buf []byte, name string, c *compressor) []byte {
	labels := splitLabels(name)

	for i := 0; i < len(labels); i++ {
		suffix := strings.ToLower(strings.Join(labels[i:], "."))
		if c != nil {
			if ptr, ok := c.lookup(suffix); ok {
				buf = append(buf, 0xC0|byte(ptr>>8), byte(ptr&0xFF))
				return buf
			}
			if len(buf) <= 0x3FFF {
				c.record(suffix, len(buf))
			}
		}
		label := labels[i]
		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}
	buf = append(buf, 0x00)
	return buf
}

// compressor tracks name-suffix -> offset mappings for encodeName.
type compressor struct {
	offsets map[string]int
}

func newCompressor() *compressor {
	return &compressor{offsets: make(map[string]int)}
}

func (c *compressor) lookup(suffix string) (int, bool) {
	off, ok := c.offsets[suffix]
	return off, ok
}

func (c *compressor) record(suffix string, offset int) {
	if _, exists := c.offsets[suffix]; !exists {
		c.offsets[suffix] = offset
	}
}
