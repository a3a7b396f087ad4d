package common

import (
	"cmp"
	"math"
)

func Sqr[T IT](a T) T {
	return a * a
}

func Abs[T IT](a T) T {
	if a < 0 {
		return -a
	}
	return a
}

// Clamp limits value to [lo, hi].
func Clamp[T cmp.Ordered](value, lo, hi T) T {
	return min(max(value, lo), hi)
}

func IsFinite(v float32) bool {
	f := float64(v)
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}

func Visfinite(v Vec3) bool {
	return IsFinite(v[0]) && IsFinite(v[1]) && IsFinite(v[2])
}

// Vperp2D is the perp product of u and v on the xz plane.
func Vperp2D(u, v Vec3) float32 {
	return u[2]*v[0] - u[0]*v[2]
}

func Vdist2DSqr(v1, v2 Vec3) float32 {
	dx := v2[0] - v1[0]
	dz := v2[2] - v1[2]
	return dx*dx + dz*dz
}

// Vdist2D ignores height.
func Vdist2D(v1, v2 Vec3) float32 {
	return float32(math.Sqrt(float64(Vdist2DSqr(v1, v2))))
}

func Vdist(v1, v2 Vec3) float32 {
	return v2.Sub(v1).Len()
}

func Vlerp(v1, v2 Vec3, t float32) Vec3 {
	return Vec3{
		v1[0] + (v2[0]-v1[0])*t,
		v1[1] + (v2[1]-v1[1])*t,
		v1[2] + (v2[2]-v1[2])*t,
	}
}

func Vmin(a, b Vec3) Vec3 {
	return Vec3{min(a[0], b[0]), min(a[1], b[1]), min(a[2], b[2])}
}

func Vmax(a, b Vec3) Vec3 {
	return Vec3{max(a[0], b[0]), max(a[1], b[1]), max(a[2], b[2])}
}

// TriArea2D is twice the signed xz area of abc.
func TriArea2D(a, b, c Vec3) float32 {
	abx := b[0] - a[0]
	abz := b[2] - a[2]
	acx := c[0] - a[0]
	acz := c[2] - a[2]
	return acx*abz - abx*acz
}

func NextPow2(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
