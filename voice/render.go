// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package voice

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/twilio/twilio-go/twiml"
)

// twiml drops empty attributes, so an explicitly empty finishOnKey is
// rendered through a placeholder and substituted afterwards.
const noFinishKey = "__none__"

// Render converts a Document into TwiML.
func Render(doc *Document) (string, error) {
	elements, err := elementsOf(doc.Children)
	if err != nil {
		return "", err
	}
	out, err := twiml.Voice(elements)
	if err != nil {
		return "", fmt.Errorf("render twiml: %w", err)
	}
	return strings.ReplaceAll(out, `finishOnKey="`+noFinishKey+`"`, `finishOnKey=""`), nil
}

func elementsOf(nodes []Node) ([]twiml.Element, error) {
	elements := make([]twiml.Element, 0, len(nodes))
	for _, n := range nodes {
		el, err := elementOf(n)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}
	return elements, nil
}

func elementOf(node Node) (twiml.Element, error) {
	switch n := node.(type) {
	case *Play:
		return &twiml.VoicePlay{Url: n.URL}, nil
	case *Say:
		return &twiml.VoiceSay{Message: n.Text, Voice: n.Voice, Language: n.Language}, nil
	case *Pause:
		return &twiml.VoicePause{Length: seconds(n.Length)}, nil
	case *Gather:
		inner, err := elementsOf(n.Children)
		if err != nil {
			return nil, err
		}
		finishOnKey := n.FinishOnKey
		if finishOnKey == "" {
			finishOnKey = noFinishKey
		}
		g := &twiml.VoiceGather{
			Action:        n.Action,
			Method:        n.Method,
			Timeout:       seconds(n.Timeout),
			FinishOnKey:   finishOnKey,
			InnerElements: inner,
		}
		if n.NumDigits > 0 {
			g.NumDigits = strconv.Itoa(n.NumDigits)
		}
		return g, nil
	case *Record:
		return &twiml.VoiceRecord{
			Action:     n.Action,
			Method:     n.Method,
			Timeout:    seconds(n.Timeout),
			MaxLength:  seconds(n.MaxLength),
			Trim:       n.Trim,
			PlayBeep:   strconv.FormatBool(n.PlayBeep),
			Transcribe: strconv.FormatBool(n.Transcribe),
		}, nil
	case *Redirect:
		return &twiml.VoiceRedirect{Url: n.URL, Method: n.Method}, nil
	case *Hangup:
		return &twiml.VoiceHangup{}, nil
	default:
		return nil, fmt.Errorf("unsupported voice node %T", node)
	}
}

func seconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.Itoa(int(d / time.Second))
}
