package dipole

import "math"

// sphereVertex matches the WGSL VertexInput vertex-rate attributes.
type sphereVertex struct {
	Pos    [3]float32
	Normal [3]float32
}

// buildSphereMesh generates a unit UV sphere. A unit radius keeps the
// instance matrix fully in charge of lobe size.
func buildSphereMesh(rings, segments int) ([]sphereVertex, []uint32) {
	if rings < 3 {
		rings = 3
	}
	if segments < 3 {
		segments = 3
	}

	var vertices []sphereVertex
	for r := 0; r <= rings; r++ {
		theta := float64(r) / float64(rings) * math.Pi
		sinT, cosT := math.Sin(theta), math.Cos(theta)
		for s := 0; s <= segments; s++ {
			phi := float64(s) / float64(segments) * 2 * math.Pi
			x := float32(sinT * math.Cos(phi))
			y := float32(cosT)
			z := float32(sinT * math.Sin(phi))
			vertices = append(vertices, sphereVertex{
				Pos:    [3]float32{x, y, z},
				Normal: [3]float32{x, y, z},
			})
		}
	}

	var indices []uint32
	stride := uint32(segments + 1)
	for r := 0; r < rings; r++ {
		for s := 0; s < segments; s++ {
			a := uint32(r)*stride + uint32(s)
			b := a + stride
			indices = append(indices, a, b, a+1, a+1, b, b+1)
		}
	}
	return vertices, indices
}
