package ingest

import "bytes"

// FieldValue is one AcroForm field with its filled value.
type FieldValue struct {
	Name  string
	Value string
}

// AcroFormValues pulls filled form-field values out of a PDF by scanning for
// /T (name) ... /V (value) pairs in the raw object stream. This covers the
// uncompressed literal-string encoding the official contest form uses; fields
// in compressed object streams or hex strings are simply not found, which
// downgrades extraction to the text layer alone.
func AcroFormValues(fileBytes []byte) []FieldValue {
	var out []FieldValue
	rest := fileBytes
	for {
		i := bytes.Index(rest, []byte("/T ("))
		if i < 0 {
			i = bytes.Index(rest, []byte("/T("))
			if i < 0 {
				break
			}
		}
		name, after, ok := literalString(rest[i:])
		if !ok {
			rest = rest[i+2:]
			continue
		}
		// The value key follows the title within the same field dictionary.
		window := after
		if len(window) > 512 {
			window = window[:512]
		}
		j := bytes.Index(window, []byte("/V"))
		if j < 0 {
			rest = after
			continue
		}
		value, _, ok := literalString(window[j:])
		if ok && value != "" {
			out = append(out, FieldValue{Name: name, Value: value})
		}
		rest = after
	}
	return out
}

// literalString parses the first PDF literal string "(...)" in b, honoring
// backslash escapes and balanced nested parens. Returns the decoded string
// and the remainder after the closing paren.
func literalString(b []byte) (string, []byte, bool) {
	open := bytes.IndexByte(b, '(')
	if open < 0 {
		return "", nil, false
	}
	var sb bytes.Buffer
	depth := 1
	for i := open + 1; i < len(b); i++ {
		c := b[i]
		switch c {
		case '\\':
			if i+1 < len(b) {
				i++
				switch b[i] {
				case 'n':
					sb.WriteByte('\n')
				case 'r':
					sb.WriteByte('\r')
				case 't':
					sb.WriteByte('\t')
				default:
					sb.WriteByte(b[i])
				}
			}
		case '(':
			depth++
			sb.WriteByte(c)
		case ')':
			depth--
			if depth == 0 {
				return sb.String(), b[i+1:], true
			}
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return "", nil, false
}
