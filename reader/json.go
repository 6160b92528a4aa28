package reader

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// jsonTopTag names the record element wrapping each top-level object.
const jsonTopTag = "json"

// parseJSON reads consecutive top-level JSON values and emits each as
// one record. Objects become nested tags, members named _attr become
// attributes of the enclosing tag, and arrays become repeated tags named
// by the enclosing key (or a positional ordinal when anonymous).
func parseJSON(br *bufio.Reader, h Handler) error {
	dec := json.NewDecoder(br)
	dec.UseNumber()
	for !h.Stopped() {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "parsing json")
		}
		delim, ok := tok.(json.Delim)
		if !ok {
			return errors.Errorf("unexpected json token: %v", tok)
		}
		switch delim {
		case '{':
			h.OpenTag(jsonTopTag)
			if err := emitJSONObject(dec, h); err != nil {
				return err
			}
			h.CloseTag(jsonTopTag)
		case '[':
			// anonymous top-level array: one record per element
			h.OpenTag("arr")
			if err := emitJSONArray(dec, h, "row"); err != nil {
				return err
			}
			h.CloseTag("arr")
		default:
			return errors.Errorf("unexpected json token: %v", tok)
		}
	}
	return nil
}

// emitJSONObject walks the members of an already-opened object.
func emitJSONObject(dec *json.Decoder, h Handler) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "parsing json")
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			return nil
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Errorf("unexpected json token: %v", tok)
		}
		if name == "_attr" {
			if err := emitJSONAttrs(dec, h); err != nil {
				return err
			}
			continue
		}
		if err := emitJSONValue(dec, h, makeTag(name)); err != nil {
			return err
		}
	}
}

// emitJSONAttrs turns an _attr object's members into attributes of the
// enclosing tag. A non-object _attr value falls back to a regular data
// tag.
func emitJSONAttrs(dec *json.Decoder, h Handler) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "parsing json")
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		h.OpenTag("_attr")
		h.Text(scalarText(tok))
		h.CloseTag("_attr")
		return nil
	}
	if delim != '{' {
		return errors.New("_attr requires an object value")
	}
	for {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "parsing json")
		}
		if delim, ok := tok.(json.Delim); ok && delim == '}' {
			return nil
		}
		name, ok := tok.(string)
		if !ok {
			return errors.Errorf("unexpected json token: %v", tok)
		}
		value, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "parsing json")
		}
		if _, ok := value.(json.Delim); ok {
			return errors.New("_attr values must be scalars")
		}
		h.Attr(makeTag(name), scalarText(value))
	}
}

// emitJSONValue emits the next decoded value under the given tag name.
func emitJSONValue(dec *json.Decoder, h Handler, name string) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "parsing json")
	}
	if delim, ok := tok.(json.Delim); ok {
		switch delim {
		case '{':
			h.OpenTag(name)
			if err := emitJSONObject(dec, h); err != nil {
				return err
			}
			h.CloseTag(name)
			return nil
		case '[':
			// repeated tags named by the enclosing key
			return emitJSONArray(dec, h, name)
		default:
			return errors.Errorf("unexpected json token: %v", tok)
		}
	}
	h.OpenTag(name)
	if text := scalarText(tok); text != "" {
		h.Text(text)
	}
	h.CloseTag(name)
	return nil
}

// emitJSONArray walks an already-opened array, naming elements by
// repeatedName or a 1-based ordinal when anonymous.
func emitJSONArray(dec *json.Decoder, h Handler, repeatedName string) error {
	elementNumber := 0
	for {
		elementNumber++
		name := repeatedName
		if name == "" {
			name = strconv.Itoa(elementNumber)
		}
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "parsing json")
		}
		if delim, ok := tok.(json.Delim); ok {
			switch delim {
			case ']':
				return nil
			case '{':
				h.OpenTag(name)
				if err := emitJSONObject(dec, h); err != nil {
					return err
				}
				h.CloseTag(name)
				continue
			case '[':
				h.OpenTag(name)
				if err := emitJSONArray(dec, h, ""); err != nil {
					return err
				}
				h.CloseTag(name)
				continue
			}
		}
		h.OpenTag(name)
		if text := scalarText(tok); text != "" {
			h.Text(text)
		}
		h.CloseTag(name)
	}
}

// emitEmbeddedJSON parses a JSON fragment (from a log message) and
// emits it under the given tag. When leaveOpen is true the outer tag
// stays open for a later CloseTag; the opened tag name is returned.
func emitEmbeddedJSON(src string, h Handler, name string, leaveOpen bool) (string, error) {
	dec := json.NewDecoder(strings.NewReader(src))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return "", errors.Wrap(err, "parsing embedded json")
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return "", errors.New("embedded json must be an object")
	}
	h.OpenTag(name)
	if err := emitJSONObject(dec, h); err != nil {
		return "", err
	}
	if !leaveOpen {
		h.CloseTag(name)
	}
	return name, nil
}

// scalarText renders a decoded scalar as character data.
func scalarText(tok json.Token) string {
	switch v := tok.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// makeTag sanitizes a member name into a tag name.
func makeTag(name string) string {
	if name == "" {
		return "_"
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '<', '>', '/':
			return '_'
		}
		return r
	}, name)
	return name
}
