// Package controller - Density diagnostics for the people detected in a frame
package controller

import (
	"image"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// DensityMetrics provides detailed analysis of people density and distribution
//
// These metrics are reported next to the risk assessment. They do not feed the
// risk score.
type DensityMetrics struct {
	// TotalObjects is the total number of detected people
	TotalObjects int `json:"total_objects"`

	// SmallObjects is the count of boxes below the small object threshold
	SmallObjects int `json:"small_objects"`

	// LargeObjects is the count of boxes above the large object threshold
	LargeObjects int `json:"large_objects"`

	// AverageObjectSize is the mean bounding box area of all boxes
	AverageObjectSize float64 `json:"average_object_size"`

	// ObjectSizeVariance measures the spread in box sizes
	ObjectSizeVariance float64 `json:"object_size_variance"`

	// SpatialDensity measures people per 1000 pixels of frame area
	SpatialDensity float64 `json:"spatial_density"`

	// ClusteringCoefficient is the fraction of pairs closer than the clustering radius
	ClusteringCoefficient float64 `json:"clustering_coefficient"`

	// OverlapRatio is the fraction of people whose box overlaps another
	OverlapRatio float64 `json:"overlap_ratio"`

	// CenterOfMass is the mean centroid of all detections
	CenterOfMass image.Point `json:"center_of_mass"`

	// BoundingRegion contains all detections
	BoundingRegion image.Rectangle `json:"bounding_region"`

	// ConfidenceDistribution provides statistics on detection confidence
	ConfidenceDistribution ConfidenceStats `json:"confidence_distribution"`
}

// ConfidenceStats provides statistical analysis of detection confidence scores
type ConfidenceStats struct {
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	StdDev float64 `json:"std_dev"`
}

// DensityEstimationConfig contains parameters for density diagnostics
type DensityEstimationConfig struct {
	// MinBoxArea is the area below which a box counts as small
	MinBoxArea int `yaml:"min_box_area"`

	// LargeObjectThreshold is the area above which a box counts as large
	LargeObjectThreshold int `yaml:"large_object_threshold"`

	// ClusteringRadius is the centre distance, in pixels, under which two people count as clustered
	ClusteringRadius float64 `yaml:"clustering_radius"`

	// OverlapThreshold is the IoU at or above which two boxes count as overlapping
	OverlapThreshold float64 `yaml:"overlap_threshold"`
}

// DefaultDensityEstimationConfig returns a default configuration for density diagnostics
func DefaultDensityEstimationConfig() DensityEstimationConfig {
	return DensityEstimationConfig{
		MinBoxArea:           500,
		LargeObjectThreshold: 5000,
		ClusteringRadius:     100.0,
		OverlapThreshold:     0.3,
	}
}

// DensityEstimator analyses the spatial distribution of the people in a frame.
// It belongs to one pipeline and is not safe for concurrent use.
type DensityEstimator struct {
	config DensityEstimationConfig
}

// NewDensityEstimator creates a new density estimator
//
// @example
// estimator := NewDensityEstimator(DefaultDensityEstimationConfig())
// metrics := estimator.Analyze(detections, frame.Area())
func NewDensityEstimator(config DensityEstimationConfig) *DensityEstimator {
	return &DensityEstimator{config: config}
}

// Analyze computes density metrics for the given detections.
//
// Arguments:
//   - detections: The people detected in the frame
//   - frameArea: Frame area in square pixels, used for spatial density
//
// Returns:
//   - DensityMetrics: The analysis; zero valued apart from TotalObjects when detections is empty
func (de *DensityEstimator) Analyze(detections []Detection, frameArea float64) DensityMetrics {
	metrics := DensityMetrics{TotalObjects: len(detections)}
	if len(detections) == 0 {
		return metrics
	}

	de.sizeMetrics(detections, &metrics)
	de.confidenceMetrics(detections, &metrics)
	de.spatialMetrics(detections, frameArea, &metrics)
	de.clusteringMetrics(detections, &metrics)
	de.overlapMetrics(detections, &metrics)

	return metrics
}

func (de *DensityEstimator) sizeMetrics(detections []Detection, metrics *DensityMetrics) {
	areas := make([]float64, len(detections))
	for i, d := range detections {
		areas[i] = float64(d.BBox.Dx() * d.BBox.Dy())
		if areas[i] < float64(de.config.MinBoxArea) {
			metrics.SmallObjects++
		}
		if areas[i] > float64(de.config.LargeObjectThreshold) {
			metrics.LargeObjects++
		}
	}
	metrics.AverageObjectSize, metrics.ObjectSizeVariance = stat.PopMeanVariance(areas, nil)
}

func (de *DensityEstimator) confidenceMetrics(detections []Detection, metrics *DensityMetrics) {
	confidences := make([]float64, len(detections))
	for i, d := range detections {
		confidences[i] = d.Confidence
	}
	sort.Float64s(confidences)

	stats := &metrics.ConfidenceDistribution
	stats.Mean = stat.Mean(confidences, nil)
	stats.Min = confidences[0]
	stats.Max = confidences[len(confidences)-1]
	stats.Median = stat.Quantile(0.5, stat.Empirical, confidences, nil)
	stats.StdDev = stat.PopStdDev(confidences, nil)
}

func (de *DensityEstimator) spatialMetrics(detections []Detection, frameArea float64, metrics *DensityMetrics) {
	var sumX, sumY int
	region := detections[0].BBox
	for _, d := range detections {
		c := centerOf(d.BBox)
		sumX += c.X
		sumY += c.Y
		region = region.Union(d.BBox)
	}

	metrics.CenterOfMass = image.Pt(sumX/len(detections), sumY/len(detections))
	metrics.BoundingRegion = region

	if frameArea > 0 {
		metrics.SpatialDensity = float64(len(detections)) / frameArea * 1000.0
	}
}

func (de *DensityEstimator) clusteringMetrics(detections []Detection, metrics *DensityMetrics) {
	if len(detections) < 2 {
		return
	}

	totalPairs, clusteredPairs := 0, 0
	for i := 0; i < len(detections); i++ {
		ci := centerOf(detections[i].BBox)
		for j := i + 1; j < len(detections); j++ {
			cj := centerOf(detections[j].BBox)
			totalPairs++
			if math.Hypot(float64(ci.X-cj.X), float64(ci.Y-cj.Y)) <= de.config.ClusteringRadius {
				clusteredPairs++
			}
		}
	}
	metrics.ClusteringCoefficient = float64(clusteredPairs) / float64(totalPairs)
}

func (de *DensityEstimator) overlapMetrics(detections []Detection, metrics *DensityMetrics) {
	if len(detections) < 2 {
		return
	}

	overlaps := make([]bool, len(detections))
	for i := range detections {
		bi := detections[i].Box()
		for j := i + 1; j < len(detections); j++ {
			bj := detections[j].Box()
			if float64(bi.IoU(&bj)) >= de.config.OverlapThreshold {
				overlaps[i] = true
				overlaps[j] = true
			}
		}
	}

	overlapping := 0
	for _, o := range overlaps {
		if o {
			overlapping++
		}
	}
	metrics.OverlapRatio = float64(overlapping) / float64(len(detections))
}

func centerOf(r image.Rectangle) image.Point {
	return image.Pt((r.Min.X+r.Max.X)/2, (r.Min.Y+r.Max.Y)/2)
}
