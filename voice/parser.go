// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package voice

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Parse reads TwiML back into a Document. Verbs and attributes the renderer
// never emits are rejected so drift between the two shows up in tests.
func Parse(data []byte) (*Document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, errors.New("voice: no <Response> element")
		}
		if err != nil {
			return nil, fmt.Errorf("voice: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "Response" {
			continue
		}
		if len(start.Attr) > 0 {
			return nil, fmt.Errorf("voice: <Response>: unsupported attribute %q", start.Attr[0].Name.Local)
		}
		nodes, err := decodeVerbs(dec, "Response")
		if err != nil {
			return nil, fmt.Errorf("voice: %w", err)
		}
		return &Document{Children: nodes}, nil
	}
}

// decodeVerbs reads sibling verbs until the closing tag of parent.
func decodeVerbs(dec *xml.Decoder, parent string) ([]Node, error) {
	var nodes []Node
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("unterminated <%s>", parent)
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return nodes, nil
		case xml.StartElement:
			n, err := decodeVerb(dec, t)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, n)
		}
	}
}

func decodeVerb(dec *xml.Decoder, start xml.StartElement) (Node, error) {
	verb := start.Name.Local
	switch verb {
	case "Play":
		n := &Play{}
		if err := bind(verb, start.Attr, binder{}); err != nil {
			return nil, err
		}
		url, err := innerText(dec, verb)
		n.URL = url
		return n, err
	case "Say":
		n := &Say{}
		if err := bind(verb, start.Attr, binder{
			"voice":    str(&n.Voice),
			"language": str(&n.Language),
		}); err != nil {
			return nil, err
		}
		text, err := innerText(dec, verb)
		n.Text = text
		return n, err
	case "Pause":
		n := &Pause{Length: time.Second}
		if err := bind(verb, start.Attr, binder{"length": secs(&n.Length)}); err != nil {
			return nil, err
		}
		return n, dec.Skip()
	case "Gather":
		n := &Gather{Timeout: 5 * time.Second, FinishOnKey: "#", Method: "POST"}
		if err := bind(verb, start.Attr, binder{
			"action":      str(&n.Action),
			"method":      method(&n.Method),
			"timeout":     secs(&n.Timeout),
			"numDigits":   integer(&n.NumDigits),
			"finishOnKey": str(&n.FinishOnKey),
		}); err != nil {
			return nil, err
		}
		children, err := decodeVerbs(dec, verb)
		n.Children = children
		return n, err
	case "Record":
		n := &Record{MaxLength: time.Hour, Timeout: 5 * time.Second, Trim: TrimSilence, PlayBeep: true, Method: "POST"}
		if err := bind(verb, start.Attr, binder{
			"action":     str(&n.Action),
			"method":     method(&n.Method),
			"timeout":    secs(&n.Timeout),
			"maxLength":  secs(&n.MaxLength),
			"trim":       str(&n.Trim),
			"playBeep":   boolean(&n.PlayBeep),
			"transcribe": boolean(&n.Transcribe),
		}); err != nil {
			return nil, err
		}
		return n, dec.Skip()
	case "Redirect":
		n := &Redirect{Method: "POST"}
		if err := bind(verb, start.Attr, binder{"method": method(&n.Method)}); err != nil {
			return nil, err
		}
		url, err := innerText(dec, verb)
		n.URL = url
		return n, err
	case "Hangup":
		if err := bind(verb, start.Attr, binder{}); err != nil {
			return nil, err
		}
		return &Hangup{}, dec.Skip()
	default:
		return nil, fmt.Errorf("unsupported verb <%s>", verb)
	}
}

// innerText returns the trimmed character data of a leaf element and
// consumes its end tag.
func innerText(dec *xml.Decoder, verb string) (string, error) {
	var b strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("<%s>: %w", verb, err)
		}
		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			return "", fmt.Errorf("<%s>: unexpected child <%s>", verb, t.Name.Local)
		case xml.EndElement:
			return strings.TrimSpace(b.String()), nil
		}
	}
}

// binder maps an attribute name to the setter for its value.
type binder map[string]func(string) error

func bind(verb string, attrs []xml.Attr, b binder) error {
	for _, a := range attrs {
		set, ok := b[a.Name.Local]
		if !ok {
			return fmt.Errorf("<%s>: unsupported attribute %q", verb, a.Name.Local)
		}
		if err := set(a.Value); err != nil {
			return fmt.Errorf("<%s %s=%q>: %w", verb, a.Name.Local, a.Value, err)
		}
	}
	return nil
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func method(dst *string) func(string) error {
	return func(v string) error { *dst = strings.ToUpper(v); return nil }
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		*dst = b
		return err
	}
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		*dst = n
		return err
	}
}

func secs(dst *time.Duration) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if n < 0 {
			return errors.New("negative duration")
		}
		*dst = time.Duration(n) * time.Second
		return nil
	}
}
