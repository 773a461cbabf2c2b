// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package geom holds the small amount of vector math netplay needs
// for spawn anchors and effect placement.
package geom

import "math"

// Vec3 is a point or offset in world units.
type Vec3 struct {
	X float64 `cbor:"x"`
	Y float64 `cbor:"y"`
	Z float64 `cbor:"z"`
}

// Up is the unit vector along the world vertical axis.
var Up = Vec3{Y: 1}

// Add returns v+o.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Sub returns v-o.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

// Scale returns v*s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

// Length returns the Euclidean length of v.
func (v Vec3) Length() float64 { return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z) }

// Distance returns the Euclidean distance between v and o.
func Distance(v, o Vec3) float64 { return v.Sub(o).Length() }
