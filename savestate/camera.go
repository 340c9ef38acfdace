package savestate

import (
	"github.com/unkn0wn-root/sceneshare/internal/wire"
)

// CameraBlockSize is the size of the camera block: the 3x4 affine part of
// the world matrix as little-endian float32, row by row.
const CameraBlockSize = 12 * 4

// Mat4 is a column-major 4x4 matrix.
type Mat4 [16]float32

// Identity returns the identity matrix.
func Identity() Mat4 {
	return Mat4{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// Translation returns the translation column.
func (m Mat4) Translation() [3]float32 {
	return [3]float32{m[12], m[13], m[14]}
}

// Camera is the serialized camera pose. Only the affine part of the world
// matrix is stored; the projective row always decodes as 0 0 0 1.
type Camera struct {
	WorldMatrix Mat4
}

func putCamera(w *wire.Buffer, c Camera) error {
	m := c.WorldMatrix
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			if err := w.PutFloat32(m[col*4+row]); err != nil {
				return err
			}
		}
	}
	return nil
}

func readCamera(r *wire.Buffer) (Camera, error) {
	m := Identity()
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			v, err := r.Float32()
			if err != nil {
				return Camera{}, err
			}
			m[col*4+row] = v
		}
	}
	return Camera{WorldMatrix: m}, nil
}
