// pkg/core/vector.go
package core

import "math"

const vectorEpsilon = 1e-9

// Vector3 is a point or direction in scene space. Y is up, -Z is forward.
type Vector3 struct {
	X, Y, Z float64
}

var (
	Up      = Vector3{Y: 1}
	Forward = Vector3{Z: -1}
)

func (v Vector3) Add(o Vector3) Vector3      { return Vector3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v Vector3) Sub(o Vector3) Vector3      { return Vector3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vector3) Scale(s float64) Vector3    { return Vector3{v.X * s, v.Y * s, v.Z * s} }
func (v Vector3) Dot(o Vector3) float64      { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }
func (v Vector3) Length() float64            { return math.Sqrt(v.Dot(v)) }
func (v Vector3) Distance(o Vector3) float64 { return v.Sub(o).Length() }

func (v Vector3) Cross(o Vector3) Vector3 {
	return Vector3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// Normalized returns the unit vector, or the zero vector when v has no length.
func (v Vector3) Normalized() Vector3 {
	l := v.Length()
	if l < vectorEpsilon {
		return Vector3{}
	}
	return v.Scale(1 / l)
}

// Uniform returns (s, s, s).
func Uniform(s float64) Vector3 { return Vector3{s, s, s} }

// Quaternion is a unit rotation.
type Quaternion struct {
	X, Y, Z, W float64
}

// Identity is the no-op rotation.
var Identity = Quaternion{W: 1}

// AxisAngle builds a rotation of degrees around axis.
func AxisAngle(axis Vector3, degrees float64) Quaternion {
	a := axis.Normalized()
	if a == (Vector3{}) {
		return Identity
	}
	half := degrees * math.Pi / 360
	s := math.Sin(half)
	return Quaternion{X: a.X * s, Y: a.Y * s, Z: a.Z * s, W: math.Cos(half)}
}

// Mul composes rotations: the result applies o first, then q.
func (q Quaternion) Mul(o Quaternion) Quaternion {
	return Quaternion{
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
	}
}

func (q Quaternion) Normalized() Quaternion {
	l := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if l < vectorEpsilon {
		return Identity
	}
	return Quaternion{q.X / l, q.Y / l, q.Z / l, q.W / l}
}

// Rotate applies q to v.
func (q Quaternion) Rotate(v Vector3) Vector3 {
	u := Vector3{q.X, q.Y, q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// LookRotation returns the rotation that turns Forward onto forward while
// keeping the local Y axis as close to up as possible. A zero forward
// yields Identity.
func LookRotation(forward, up Vector3) Quaternion {
	f := forward.Normalized()
	if f == (Vector3{}) {
		return Identity
	}
	r := f.Cross(up).Normalized()
	if r == (Vector3{}) {
		// forward is parallel to up
		r = Vector3{X: 1}
		if math.Abs(f.X) > 0.9 {
			r = Vector3{Z: 1}
		}
		r = r.Sub(f.Scale(r.Dot(f))).Normalized()
	}
	u := r.Cross(f)
	b := f.Scale(-1)

	// columns are the images of the local X, Y, Z axes
	m00, m01, m02 := r.X, u.X, b.X
	m10, m11, m12 := r.Y, u.Y, b.Y
	m20, m21, m22 := r.Z, u.Z, b.Z

	var q Quaternion
	trace := m00 + m11 + m22
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = Quaternion{W: 0.25 / s, X: (m21 - m12) * s, Y: (m02 - m20) * s, Z: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = Quaternion{W: (m21 - m12) / s, X: 0.25 * s, Y: (m01 + m10) / s, Z: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = Quaternion{W: (m02 - m20) / s, X: (m01 + m10) / s, Y: 0.25 * s, Z: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = Quaternion{W: (m10 - m01) / s, X: (m02 + m20) / s, Y: (m12 + m21) / s, Z: 0.25 * s}
	}
	return q.Normalized()
}
