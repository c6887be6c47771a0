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

// Package sensor provides motion sensor sources: a seeded simulation for
// hosts without the chip and a wrapper that reports host thermal readings
// as the chip temperature.
package sensor

import (
	"context"
	"errors"
	"math/rand"
	"sync"
)

// ErrNotReady is returned when reading a sensor that is not ready.
var ErrNotReady = errors.New("sensor: not ready")

// Vector is a three axis reading.
type Vector struct {
	X, Y, Z float64
}

// Motion is a 9-axis motion sensor with a chip temperature sensor.
type Motion interface {
	Ready() bool
	Accel(ctx context.Context) (Vector, error)
	Gyro(ctx context.Context) (Vector, error)
	Magnet(ctx context.Context) (Vector, error)
	ChipTemperature(ctx context.Context) (float64, error)
}

// Simulated is a random walk motion sensor. The zero value is not usable;
// construct with NewSimulated.
type Simulated struct {
	mu     sync.Mutex
	rng    *rand.Rand
	ready  bool
	accel  Vector
	gyro   Vector
	magnet Vector
	temp   float64
}

// NewSimulated returns a ready sensor seeded with seed. Equal seeds produce
// equal reading sequences.
func NewSimulated(seed int64) *Simulated {
	return &Simulated{
		rng:    rand.New(rand.NewSource(seed)),
		ready:  true,
		accel:  Vector{Z: 1},
		magnet: Vector{X: 20, Y: -5, Z: 40},
		temp:   24,
	}
}

// SetReady toggles readiness.
func (s *Simulated) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

func (s *Simulated) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Simulated) Accel(ctx context.Context) (Vector, error) {
	return s.step(ctx, &s.accel, 0.05)
}

func (s *Simulated) Gyro(ctx context.Context) (Vector, error) {
	return s.step(ctx, &s.gyro, 1)
}

func (s *Simulated) Magnet(ctx context.Context) (Vector, error) {
	return s.step(ctx, &s.magnet, 0.5)
}

func (s *Simulated) ChipTemperature(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return 0, ErrNotReady
	}
	s.temp += s.delta(0.25)
	return s.temp, nil
}

func (s *Simulated) step(ctx context.Context, v *Vector, scale float64) (Vector, error) {
	if err := ctx.Err(); err != nil {
		return Vector{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Vector{}, ErrNotReady
	}
	v.X += s.delta(scale)
	v.Y += s.delta(scale)
	v.Z += s.delta(scale)
	return *v, nil
}

// delta returns a value in [-scale, scale). Callers hold mu.
func (s *Simulated) delta(scale float64) float64 {
	return (s.rng.Float64()*2 - 1) * scale
}
