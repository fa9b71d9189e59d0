package pdf

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// TextFromContent extracts literal strings shown by Tj, TJ, ' and " inside
// BT/ET blocks of a decoded content stream. Hex strings are ignored.
func TextFromContent(stream []byte) string {
	var (
		out    strings.Builder
		line   strings.Builder
		inText bool
	)

	flush := func() {
		s := strings.TrimSpace(line.String())
		if s != "" {
			out.WriteString(s)
			out.WriteString("\n")
		}
		line.Reset()
	}

	for i := 0; i < len(stream); i++ {
		c := stream[i]
		switch {
		case c == '(' && inText:
			s, end := readLiteral(stream, i)
			line.WriteString(decodeText(s))
			i = end
		case c == '%':
			for i < len(stream) && stream[i] != '\n' && stream[i] != '\r' {
				i++
			}
		case isOperator(stream, i, "BT"):
			inText = true
			i++
		case isOperator(stream, i, "ET"):
			inText = false
			flush()
			i++
		case inText && (isOperator(stream, i, "Td") || isOperator(stream, i, "TD") || isOperator(stream, i, "T*")):
			if line.Len() > 0 {
				line.WriteByte(' ')
			}
			i++
		}
	}
	flush()

	return strings.TrimSpace(out.String())
}

// isOperator reports whether op starts at i delimited by whitespace or stream bounds.
func isOperator(b []byte, i int, op string) bool {
	if i+len(op) > len(b) || string(b[i:i+len(op)]) != op {
		return false
	}
	if i > 0 && !isDelimiter(b[i-1]) {
		return false
	}
	end := i + len(op)
	return end == len(b) || isDelimiter(b[end])
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\n', '\r', '\t', '\f', 0, '[', ']', '(', ')', '<', '>', '/':
		return true
	}
	return false
}

// decodeText turns the bytes of a literal string into UTF-8. A UTF-16BE byte
// order mark selects UTF-16; bytes that are not already UTF-8 are read as
// Latin-1, which matches PDFDocEncoding for accented letters. NULs left by
// two-byte CID encodings are dropped.
func decodeText(raw string) string {
	var (
		out string
		err error
	)
	switch {
	case strings.HasPrefix(raw, "\xFE\xFF"):
		out, err = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().String(raw)
	case strings.HasPrefix(raw, "\xEF\xBB\xBF"):
		out = raw[3:]
	case utf8.ValidString(raw):
		out = raw
	default:
		out, err = charmap.ISO8859_1.NewDecoder().String(raw)
	}
	if err != nil {
		out = raw
	}
	out = strings.ReplaceAll(out, "\x00", "")
	return strings.ToValidUTF8(out, "\uFFFD")
}

// readLiteral decodes a PDF literal string starting at the '(' at i and
// returns it with the index of the closing ')'.
func readLiteral(b []byte, i int) (string, int) {
	var s strings.Builder
	depth := 0
	for j := i; j < len(b); j++ {
		c := b[j]
		switch c {
		case '\\':
			if j+1 >= len(b) {
				return s.String(), j
			}
			j++
			switch e := b[j]; e {
			case 'n':
				s.WriteByte('\n')
			case 'r':
				s.WriteByte('\r')
			case 't':
				s.WriteByte('\t')
			case 'b', 'f':
			case '\n', '\r':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for k := 0; k < 2 && j+1 < len(b) && b[j+1] >= '0' && b[j+1] <= '7'; k++ {
						j++
						v = v*8 + int(b[j]-'0')
					}
					s.WriteByte(byte(v))
				} else {
					s.WriteByte(e)
				}
			}
		case '(':
			if depth > 0 {
				s.WriteByte(c)
			}
			depth++
		case ')':
			depth--
			if depth == 0 {
				return s.String(), j
			}
			s.WriteByte(c)
		default:
			s.WriteByte(c)
		}
	}
	return s.String(), len(b)
}
