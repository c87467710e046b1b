package dipole

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// MatrixBytes is the byte footprint of one slot's transform in a lobe
// buffer: a column-major 4x4 float32 matrix.
const MatrixBytes = 16 * 4

// composeTransform builds an affine transform from a position, a unit
// orientation quaternion and a uniform scale. Rotation and scale make up
// the upper 3x3, translation goes in the last column. mgl32.Mat4 is
// column-major, so the layout matches the wire format directly.
func composeTransform(pos mgl32.Vec3, rot mgl32.Quat, scale float32) mgl32.Mat4 {
	m := rot.Mat4()
	for c := 0; c < 3; c++ {
		m[c*4+0] *= scale
		m[c*4+1] *= scale
		m[c*4+2] *= scale
	}
	m[12] = pos.X()
	m[13] = pos.Y()
	m[14] = pos.Z()
	return m
}

// spinDelta is the incremental rotation about a fixed axis for one tick.
func spinDelta(axis mgl32.Vec3, angle float32) mgl32.Quat {
	return mgl32.QuatRotate(angle, axis)
}

// applySpin precesses an orientation by a delta rotation. Delta on the
// left keeps the spin axis fixed in the world frame. The result is not
// renormalized; unit-length drift over a particle lifetime stays well
// below float32 noise.
func applySpin(delta, current mgl32.Quat) mgl32.Quat {
	return delta.Mul(current)
}

// eulerXYZ composes three per-axis rotations in XYZ order into a quaternion.
func eulerXYZ(x, y, z float32) mgl32.Quat {
	return mgl32.AnglesToQuat(x, y, z, mgl32.XYZ)
}

// lobeOffset is the fixed translation pushing a lobe away from the dipole
// center along its local X axis. Applied by post-multiplying the base
// transform, so the offset follows the particle's orientation and scale.
func lobeOffset(distance float32) mgl32.Mat4 {
	return mgl32.Translate3D(distance, 0, 0)
}

// putMat4 serializes m into buf at the slot's fixed byte offset,
// little-endian float32, column-major.
func putMat4(buf []byte, slot int, m mgl32.Mat4) {
	off := slot * MatrixBytes
	for i, f := range m {
		binary.LittleEndian.PutUint32(buf[off+i*4:], math.Float32bits(f))
	}
}

// putFloat32 writes one little-endian float32.
func putFloat32(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
}

// getMat4 reads the slot's matrix back out of a lobe buffer.
func getMat4(buf []byte, slot int) mgl32.Mat4 {
	off := slot * MatrixBytes
	var m mgl32.Mat4
	for i := range m {
		m[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off+i*4:]))
	}
	return m
}
