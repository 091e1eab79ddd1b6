package geometry

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/pkg/optim"
)

// spherePoints samples a sphere on a latitude/longitude grid.
func spherePoints(centre r3.Vec, radius float64, nLat, nLon int) []r3.Vec {
	var pts []r3.Vec
	for i := 1; i < nLat; i++ {
		phi := math.Pi * float64(i) / float64(nLat)
		for j := 0; j < nLon; j++ {
			theta := 2 * math.Pi * float64(j) / float64(nLon)
			pts = append(pts, r3.Vec{
				X: centre.X + radius*math.Sin(phi)*math.Cos(theta),
				Y: centre.Y + radius*math.Sin(phi)*math.Sin(theta),
				Z: centre.Z + radius*math.Cos(phi),
			})
		}
	}
	return pts
}

func TestFitLine3DCollinear(t *testing.T) {
	dir, err := Unit(r3.Vec{X: 1, Y: 2, Z: 3})
	require.NoError(t, err)
	origin := r3.Vec{X: -4, Y: 7, Z: 12}

	var pts []r3.Vec
	for i := -10; i <= 10; i++ {
		pts = append(pts, r3.Add(origin, r3.Scale(float64(i)*1.7, dir)))
	}

	seed := Line3D{Dir: r3.Vec{Z: 1}}
	line, rmse, err := FitLine3D(pts, seed)
	require.NoError(t, err)

	assert.InDelta(t, 1.0, math.Abs(r3.Dot(line.Dir, dir)), 1e-9)
	assert.InDelta(t, 0, rmse, 1e-9)
	assert.InDelta(t, 0, line.Distance(origin), 1e-9)
	// seed orientation decides the sign
	assert.Greater(t, r3.Dot(line.Dir, seed.Dir), 0.0)
}

func TestFitLine3DOrientationFollowsSeed(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	line, _, err := FitLine3D(pts, Line3D{Dir: r3.Vec{X: -1}})
	require.NoError(t, err)
	assert.InDelta(t, -1, line.Dir.X, 1e-12)
}

func TestFitLine3DPlanarCloud(t *testing.T) {
	// Points on a thin rectangle: longest extent along y.
	var pts []r3.Vec
	for x := -1.0; x <= 1.0; x += 0.5 {
		for y := -20.0; y <= 20.0; y += 1.0 {
			pts = append(pts, r3.Vec{X: x, Y: y, Z: 5})
		}
	}
	line, _, err := FitLine3D(pts, Line3D{Dir: r3.Vec{Y: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1, line.Dir.Y, 1e-9)
	assert.False(t, math.IsNaN(line.Point.X))
}

func TestFitLine3DDegenerate(t *testing.T) {
	pts := []r3.Vec{{X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}, {X: 1, Y: 1, Z: 1}}
	_, _, err := FitLine3D(pts, Line3D{Dir: r3.Vec{Z: 1}})
	assert.ErrorIs(t, err, ErrDegenerate)

	_, _, err = FitLine3D(nil, Line3D{Dir: r3.Vec{Z: 1}})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestFitLine3DWeighted(t *testing.T) {
	// a sparse heavy cross along x and a dense light one along y
	var pts []r3.Vec
	var weights []float64
	for i := 0; i < 10; i++ {
		pts = append(pts, r3.Vec{X: -1 + 2*float64(i)/9})
		weights = append(weights, 10)
	}
	for i := 0; i < 100; i++ {
		pts = append(pts, r3.Vec{Y: -1.5 + 3*float64(i)/99})
		weights = append(weights, 0.01)
	}

	plain, _, err := FitLine3D(pts, Line3D{Dir: r3.Vec{Y: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1, math.Abs(plain.Dir.Y), 1e-9)

	weighted, _, err := FitLine3DWeighted(pts, weights, Line3D{Dir: r3.Vec{X: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1, weighted.Dir.X, 1e-9)
	assert.InDelta(t, 0, r3.Norm(weighted.Point), 1e-9)

	// scaling every weight changes nothing
	scaled := make([]float64, len(weights))
	for i, w := range weights {
		scaled[i] = 1e-4 * w
	}
	again, rmse, err := FitLine3DWeighted(pts, scaled, Line3D{Dir: r3.Vec{X: 1}})
	require.NoError(t, err)
	assert.InDelta(t, 1, again.Dir.X, 1e-9)
	_, want, err := FitLine3DWeighted(pts, weights, Line3D{Dir: r3.Vec{X: 1}})
	require.NoError(t, err)
	assert.InDelta(t, want, rmse, 1e-12)

	_, _, err = FitLine3DWeighted(pts, weights[:3], Line3D{Dir: r3.Vec{X: 1}})
	assert.ErrorIs(t, err, ErrDegenerate)
	weights[0] = -1
	_, _, err = FitLine3DWeighted(pts, weights, Line3D{Dir: r3.Vec{X: 1}})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestFitSphereRecoversCentreAndRadius(t *testing.T) {
	cases := []struct {
		centre r3.Vec
		radius float64
	}{
		{r3.Vec{}, 1},
		{r3.Vec{X: 10, Y: -5, Z: 100}, 25},
		{r3.Vec{X: -300, Y: 250, Z: 40}, 0.5},
	}
	for _, tc := range cases {
		fit, err := FitSphere(spherePoints(tc.centre, tc.radius, 12, 18))
		require.NoError(t, err)
		assert.InDelta(t, tc.radius, fit.Radius, 1e-6*math.Max(1, tc.radius))
		assert.InDelta(t, 0, Distance(fit.Centre, tc.centre), 1e-6*math.Max(1, tc.radius))
		assert.InDelta(t, 0, fit.RMSE, 1e-6)
	}
}

func TestFitSpherePartialCap(t *testing.T) {
	// Upper hemisphere only, as for a femoral head region.
	centre := r3.Vec{X: 3, Y: 4, Z: 5}
	var cap []r3.Vec
	for _, p := range spherePoints(centre, 22, 20, 24) {
		if p.Z >= centre.Z {
			cap = append(cap, p)
		}
	}
	fit, err := FitSphere(cap)
	require.NoError(t, err)
	assert.InDelta(t, 22, fit.Radius, 1e-6)
}

func TestFitSphereDegenerate(t *testing.T) {
	var flat []r3.Vec
	for i := 0; i < 36; i++ {
		a := 2 * math.Pi * float64(i) / 36
		flat = append(flat, r3.Vec{X: 10 * math.Cos(a), Y: 10 * math.Sin(a), Z: 3})
	}
	_, err := FitSphere(flat)
	assert.ErrorIs(t, err, ErrDegenerate)

	var line []r3.Vec
	for i := 0; i < 10; i++ {
		line = append(line, r3.Vec{X: float64(i), Y: 2 * float64(i)})
	}
	_, err = FitSphere(line)
	assert.ErrorIs(t, err, ErrDegenerate)

	_, err = FitSphere(flat[:3])
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestFitCircle3DTiltedRing(t *testing.T) {
	normal, err := Unit(r3.Vec{X: 0.2, Y: -0.3, Z: 1})
	require.NoError(t, err)
	plane, err := NewPlane(normal, r3.Vec{X: 5, Y: 6, Z: 7})
	require.NoError(t, err)

	var ring []r3.Vec
	for i := 0; i < 40; i++ {
		a := 2 * math.Pi * float64(i) / 40
		off := r3.Add(r3.Scale(12*math.Cos(a), plane.X), r3.Scale(12*math.Sin(a), plane.Y))
		ring = append(ring, r3.Add(plane.Point, off))
	}

	fit, err := FitCircle3D(ring)
	require.NoError(t, err)
	assert.InDelta(t, 12, fit.Radius, 1e-9)
	assert.InDelta(t, 0, Distance(fit.Centre, plane.Point), 1e-9)
	assert.InDelta(t, 1, math.Abs(r3.Dot(fit.Normal, normal)), 1e-9)
}

func TestFitCircle3DCollinear(t *testing.T) {
	pts := []r3.Vec{{X: 0}, {X: 1}, {X: 2}, {X: 3}}
	_, err := FitCircle3D(pts)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestPlaneDistanceToPoints(t *testing.T) {
	p, err := NewPlane(r3.Vec{Z: 2}, r3.Vec{X: 1, Y: 1, Z: 1})
	require.NoError(t, err)
	assert.InDelta(t, -1, p.D(), 1e-12)

	dist, proj := p.DistanceToPoints([]r3.Vec{{Z: 4}, {X: 3, Z: -1}})
	assert.InDeltaSlice(t, []float64{3, -2}, dist, 1e-12)
	assert.Equal(t, r3.Vec{Z: 1}, proj[0])
	assert.Equal(t, r3.Vec{X: 3, Z: 1}, proj[1])
}

func TestPlaneProjectClosePoints(t *testing.T) {
	p, err := NewPlane(r3.Vec{X: 1, Y: 1, Z: 1}, r3.Vec{X: 2})
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	pts := make([]r3.Vec, 500)
	for i := range pts {
		pts[i] = r3.Vec{X: rng.Float64()*20 - 10, Y: rng.Float64()*20 - 10, Z: rng.Float64()*20 - 10}
	}

	proj, idx := p.ProjectClosePoints(pts, 1.0)
	require.NotEmpty(t, proj)
	require.Len(t, idx, len(proj))
	for k, i := range idx {
		assert.Less(t, math.Abs(p.SignedDistance(pts[i])), 1.0)
		assert.InDelta(t, 0, p.SignedDistance(proj[k]), 1e-9)
	}

	// re-projection is a no-op
	again, idx2 := p.ProjectClosePoints(proj, 1.0)
	require.Len(t, again, len(proj))
	for k := range again {
		assert.Equal(t, k, idx2[k])
		assert.InDelta(t, 0, Distance(again[k], proj[k]), 1e-9)
	}
}

func TestNewPlaneZeroNormal(t *testing.T) {
	_, err := NewPlane(r3.Vec{}, r3.Vec{X: 1})
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestPlaneInPlaneAxes(t *testing.T) {
	for _, n := range []r3.Vec{{Z: 1}, {X: 1}, {X: 0.3, Y: -0.2, Z: 0.9}} {
		p, err := NewPlane(n, r3.Vec{})
		require.NoError(t, err)
		assert.InDelta(t, 0, r3.Dot(p.X, p.Normal), 1e-12)
		assert.InDelta(t, 0, r3.Dot(p.Y, p.Normal), 1e-12)
		assert.InDelta(t, 0, r3.Dot(p.X, p.Y), 1e-12)
		assert.InDelta(t, 1, r3.Norm(p.X), 1e-12)
	}
}

func TestLine3DClosestPoint(t *testing.T) {
	l, err := NewLine3D(r3.Vec{Z: 2}, r3.Vec{X: 1})
	require.NoError(t, err)

	c, tt := l.ClosestPoint(r3.Vec{X: 4, Z: 3})
	assert.Equal(t, r3.Vec{X: 1, Z: 3}, c)
	assert.InDelta(t, 3, tt, 1e-12)
	assert.InDelta(t, 3, l.Distance(r3.Vec{X: 4, Z: 3}), 1e-12)
	assert.InDeltaSlice(t, []float64{-1, 5}, l.Project([]r3.Vec{{Z: -1}, {Y: 9, Z: 5}}), 1e-12)
	assert.Equal(t, r3.Vec{Z: -1}, l.Flip().Dir)
}

func TestSignedAngle2D(t *testing.T) {
	assert.InDelta(t, math.Pi/2, SignedAngle2D([2]float64{1, 0}, [2]float64{0, 1}), 1e-12)
	assert.InDelta(t, -math.Pi/2, SignedAngle2D([2]float64{0, 1}, [2]float64{1, 0}), 1e-12)
	assert.InDelta(t, math.Pi/4, Angle(r3.Vec{X: 1}, r3.Vec{X: 1, Y: 1}), 1e-12)
}

func TestFitBoxAxisAligned(t *testing.T) {
	var pts []r3.Vec
	for x := -20.0; x <= 20.0; x += 2 {
		for y := -10.0; y <= 10.0; y += 2 {
			for _, z := range []float64{-5, 5} {
				pts = append(pts, r3.Vec{X: x + 100, Y: y, Z: z})
			}
		}
	}
	axes := [3]r3.Vec{{X: 1}, {Y: 1}, {Z: 1}}
	fit, err := FitBox(pts, Centroid(pts), axes, optim.NelderMead{})
	require.NoError(t, err)

	assert.InDelta(t, 40, fit.Dims[0], 0.5)
	assert.InDelta(t, 20, fit.Dims[1], 0.5)
	assert.InDelta(t, 10, fit.Dims[2], 0.5)
	assert.InDelta(t, 0, Distance(fit.Centre, r3.Vec{X: 100}), 0.5)
	assert.InDelta(t, 8000, fit.Volume, 300)
}

func TestPointIndexNearest(t *testing.T) {
	pts := spherePoints(r3.Vec{}, 10, 8, 10)
	idx := NewPointIndex(pts)

	for i, p := range pts {
		j, d := idx.Nearest(r3.Add(p, r3.Vec{X: 1e-6}))
		assert.Equal(t, i, j)
		assert.InDelta(t, 1e-6, d, 1e-9)
	}

	empty := NewPointIndex(nil)
	j, _ := empty.Nearest(r3.Vec{})
	assert.Equal(t, -1, j)
}

func TestCentroid(t *testing.T) {
	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, Centroid([]r3.Vec{{X: 0, Y: 2, Z: 6}, {X: 2, Y: 2, Z: 0}}))
	assert.Equal(t, r3.Vec{}, Centroid(nil))
}
