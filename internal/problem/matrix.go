package problem

import (
	"math"

	"fleetroute/internal/model"
)

// earthRadiusMeters is the equatorial radius used for great-circle distances.
const earthRadiusMeters = 6378137.0

// HaversineMeters returns the great-circle distance between two points, truncated to meters.
func HaversineMeters(a, b model.GeoPoint) int64 {
	rad := math.Pi / 180
	dLat := (b.Lat - a.Lat) * rad
	dLng := (b.Lng - a.Lng) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(a.Lat*rad)*math.Cos(b.Lat*rad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return int64(earthRadiusMeters * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h)))
}

// DistanceMatrix computes pairwise haversine distances. Every point must be set.
func DistanceMatrix(points []model.GeoPoint) [][]int64 {
	out := make([][]int64, len(points))
	for i := range points {
		out[i] = make([]int64, len(points))
		for j := range points {
			if i != j {
				out[i][j] = HaversineMeters(points[i], points[j])
			}
		}
	}
	return out
}

// TimeMatrix converts a meter matrix into whole seconds at a constant speed.
func TimeMatrix(distances [][]int64, speedKph float64) [][]int64 {
	mps := speedKph * 1000 / 3600
	out := make([][]int64, len(distances))
	for i, row := range distances {
		out[i] = make([]int64, len(row))
		for j, d := range row {
			out[i][j] = int64(float64(d) / mps)
		}
	}
	return out
}
