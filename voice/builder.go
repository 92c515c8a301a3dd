// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package voice

import "time"

const (
	TrimSilence = "trim-silence"
	DoNotTrim   = "do-not-trim"
)

// Builder appends instructions to a Document in call order.
type Builder struct {
	doc Document
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Document returns the built document. The builder must not be used afterwards.
func (b *Builder) Document() *Document {
	d := b.doc
	return &d
}

func (b *Builder) Play(url string) *Builder {
	if url == "" {
		return b
	}
	b.doc.Children = append(b.doc.Children, &Play{URL: url})
	return b
}

func (b *Builder) Say(text string) *Builder {
	b.doc.Children = append(b.doc.Children, &Say{Text: text})
	return b
}

// PlayOrSay plays url, or speaks text when no audio is available.
func (b *Builder) PlayOrSay(url, text string) *Builder {
	if url != "" {
		return b.Play(url)
	}
	return b.Say(text)
}

func (b *Builder) Pause(d time.Duration) *Builder {
	b.doc.Children = append(b.doc.Children, &Pause{Length: d})
	return b
}

func (b *Builder) Gather(g Gather) *Builder {
	if g.Method == "" {
		g.Method = "POST"
	}
	b.doc.Children = append(b.doc.Children, &g)
	return b
}

func (b *Builder) Record(r Record) *Builder {
	if r.Method == "" {
		r.Method = "POST"
	}
	b.doc.Children = append(b.doc.Children, &r)
	return b
}

func (b *Builder) Redirect(url string) *Builder {
	b.doc.Children = append(b.doc.Children, &Redirect{URL: url, Method: "POST"})
	return b
}

func (b *Builder) Hangup() *Builder {
	b.doc.Children = append(b.doc.Children, &Hangup{})
	return b
}

// RetryGather describes a digit wait that is re-armed once on silence and then
// ends the call.
type RetryGather struct {
	Action      string
	NumDigits   int
	Timeout     time.Duration
	FinishOnKey string
	Prompt      string // played inside the first gather
	Retry       string // played inside the second gather
	Goodbye     string // played before hanging up
}

// GatherWithRetry emits gather, fallback gather, goodbye, hangup. The provider
// falls through to the next verb when a gather times out, so the document
// itself encodes the two-consecutive-silences rule.
func (b *Builder) GatherWithRetry(rg RetryGather) *Builder {
	nested := func(url string) []Node {
		if url == "" {
			return nil
		}
		return []Node{&Play{URL: url}}
	}
	g := Gather{
		NumDigits:   rg.NumDigits,
		Timeout:     rg.Timeout,
		FinishOnKey: rg.FinishOnKey,
		Action:      rg.Action,
	}
	first := g
	first.Children = nested(rg.Prompt)
	second := g
	second.Children = nested(rg.Retry)
	return b.Gather(first).Gather(second).Play(rg.Goodbye).Hangup()
}
