// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package board models the digital I/O of the development board: the user
// LED and push buttons, both wired active low.
package board

import (
	"sync"
	"sync/atomic"
)

// Level is a digital pin level.
type Level int

const (
	Low  Level = 0
	High Level = 1
)

// Pin is a digital I/O pin.
type Pin interface {
	Read() Level
	Write(Level)
}

// MemoryPin is an in-memory pin, used in place of real GPIO.
type MemoryPin struct {
	level atomic.Int32
}

// NewMemoryPin returns a pin at the given level.
func NewMemoryPin(initial Level) *MemoryPin {
	p := &MemoryPin{}
	p.Write(initial)
	return p
}

func (p *MemoryPin) Read() Level {
	return Level(p.level.Load())
}

func (p *MemoryPin) Write(l Level) {
	if l != Low {
		l = High
	}
	p.level.Store(int32(l))
}

// LED drives an active-low LED: writing Low turns it on.
type LED struct {
	mu  sync.Mutex
	pin Pin
}

// NewLED returns an LED on pin, initially off.
func NewLED(pin Pin) *LED {
	pin.Write(High)
	return &LED{pin: pin}
}

// Set switches the LED on or off.
func (l *LED) Set(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if on {
		l.pin.Write(Low)
	} else {
		l.pin.Write(High)
	}
}

// On reports whether the LED is lit.
func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pin.Read() == Low
}

// Button is an active-low push button: the pin reads Low while pressed.
type Button struct {
	pin Pin
}

func NewButton(pin Pin) *Button {
	return &Button{pin: pin}
}

// Pressed reports whether the button is held down.
func (b *Button) Pressed() bool {
	return b.pin.Read() == Low
}
