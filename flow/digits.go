// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package flow

// DigitClass is the meaning of a keypad result at a digit wait.
type DigitClass int

const (
	DigitsIdle DigitClass = iota
	DigitsContinue
	DigitsRestart
)

func (c DigitClass) String() string {
	switch c {
	case DigitsContinue:
		return "continue"
	case DigitsRestart:
		return "restart"
	default:
		return "idle"
	}
}

// ClassifyDigits maps a gather result to continue (0-9, #), restart (*), or
// idle (anything else, including silence).
func ClassifyDigits(digits string) DigitClass {
	if len(digits) != 1 {
		return DigitsIdle
	}
	switch c := digits[0]; {
	case c >= '0' && c <= '9', c == '#':
		return DigitsContinue
	case c == '*':
		return DigitsRestart
	default:
		return DigitsIdle
	}
}
