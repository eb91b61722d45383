package vectorindex

import (
	"fmt"
	"math"
	"sort"
)

type Metric string

const (
	MetricCosine       Metric = "cosine"
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "ip"
)

func ParseMetric(raw string) (Metric, error) {
	switch Metric(raw) {
	case MetricCosine, MetricL2, MetricInnerProduct:
		return Metric(raw), nil
	}
	return "", &ValidationError{Field: "distance_metric", Reason: fmt.Sprintf("unknown metric %q", raw)}
}

// Distance returns a value where smaller means closer, for every metric:
// cosine is 1-cos, l2 is the squared euclidean distance, ip is 1-dot.
func (m Metric) Distance(a, b []float32) float64 {
	switch m {
	case MetricL2:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum
	case MetricInnerProduct:
		return 1 - dot(a, b)
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot(a, b)/(na*nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}

// SortResults orders by ascending distance, ties broken by id, and keeps at most topN.
func SortResults(results []Result, topN int) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topN {
		results = results[:topN]
	}
	return results
}
