package reader

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// maxTagSize bounds a single tag, including its attributes. The symptom
// of exceeding it is the "tag exceeds" error below.
const maxTagSize = 65536

// parseXML scans a tag tree and emits events. The scanner is
// deliberately lenient: it does not validate against any markup
// standard, it only recognizes tags, attributes, character data, and
// self-terminating forms. Processing instructions and declarations
// (<? ... ?>, <! ... >) are skipped.
func parseXML(br *bufio.Reader, h Handler) error {
	for !h.Stopped() {
		// character data up to the next tag
		text, err := br.ReadString('<')
		if strings.HasSuffix(text, "<") {
			text = text[:len(text)-1]
		}
		if len(text) > 0 {
			h.Text(text)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading input")
		}

		tag, err := readUntil(br, '>')
		if err == io.EOF {
			return errors.New("either input is not an XML file or an XML tag exceeds the scanner buffer")
		}
		if err != nil {
			return err
		}
		if err := emitTag(tag, h); err != nil {
			return err
		}
	}
	return nil
}

// readUntil consumes bytes up to and excluding the delimiter, bounded by
// the scanner buffer size.
func readUntil(br *bufio.Reader, delim byte) (string, error) {
	var sb strings.Builder
	for {
		b, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return sb.String(), io.EOF
			}
			return "", errors.Wrap(err, "reading input")
		}
		if b == delim {
			return sb.String(), nil
		}
		if sb.Len() >= maxTagSize {
			return "", errors.New("either input is not an XML file or an XML tag exceeds the scanner buffer")
		}
		sb.WriteByte(b)
	}
}

// emitTag classifies one tag's inner text and emits its events.
func emitTag(tag string, h Handler) error {
	label := strings.TrimSpace(tag)
	if label == "" {
		return errors.Errorf("invalid XML tag: <%s>", tag)
	}

	// specials carry no events
	if label[0] == '?' || label[0] == '!' {
		return nil
	}

	if label[0] == '/' {
		h.CloseTag(strings.TrimSpace(label[1:]))
		return nil
	}

	selfTerminating := strings.HasSuffix(label, "/")
	if selfTerminating {
		label = strings.TrimSpace(label[:len(label)-1])
		if label == "" {
			return errors.Errorf("invalid XML tag: <%s>", tag)
		}
	}

	name, attrText := splitTagLabel(label)
	h.OpenTag(name)
	if attrText != "" {
		if err := emitAttributes(attrText, tag, h); err != nil {
			return err
		}
	}
	if selfTerminating {
		h.CloseTag(name)
	}
	return nil
}

// splitTagLabel separates the tag name from its attribute text.
func splitTagLabel(label string) (name, attrText string) {
	for i := 0; i < len(label); i++ {
		if label[i] == ' ' || label[i] == '\t' || label[i] == '\n' || label[i] == '\r' {
			return label[:i], strings.TrimSpace(label[i:])
		}
	}
	return label, ""
}

// emitAttributes parses name="value" pairs, tolerating either quote
// style.
func emitAttributes(attrText, tag string, h Handler) error {
	for _, word := range splitAttrWords(attrText) {
		eq := strings.IndexByte(word, '=')
		if eq < 0 {
			return errors.Errorf("invalid XML tag: <%s>", tag)
		}
		name := word[:eq]
		value := word[eq+1:]
		if len(value) < 2 ||
			!((value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'')) {
			return errors.Errorf("invalid XML tag: <%s>", tag)
		}
		h.Attr(name, value[1:len(value)-1])
	}
	return nil
}

// splitAttrWords splits attribute text on whitespace outside quotes.
func splitAttrWords(s string) []string {
	var words []string
	var cur strings.Builder
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(ch)
			if ch == quote {
				quote = 0
			}
		case ch == '"' || ch == '\'':
			quote = ch
			cur.WriteByte(ch)
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if cur.Len() > 0 {
				words = append(words, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(ch)
		}
	}
	if cur.Len() > 0 {
		words = append(words, cur.String())
	}
	return words
}
