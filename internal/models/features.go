package models

// FeatureCount is the fixed dimensionality of a FeatureVector.
const FeatureCount = 15

// Feature indices. The order is the model input order and must not change.
const (
	FeatureMeanCPU = iota
	FeatureStdCPU
	FeatureMinCPU
	FeatureMaxCPU
	FeatureDeltaCPU
	FeatureCPUTrend
	FeatureCPUVolatility
	FeatureMeanMemory
	FeatureStdMemory
	FeatureMemoryTrend
	FeatureMeanRequests
	FeatureRequestSpikeCount
	FeatureThroughputDelta
	FeatureCostDelta
	FeatureUnitEconomicsRatio
)

// FeatureNames lists feature names in model input order.
var FeatureNames = [FeatureCount]string{
	"mean_cpu",
	"std_cpu",
	"min_cpu",
	"max_cpu",
	"delta_cpu",
	"cpu_trend",
	"cpu_volatility",
	"mean_memory",
	"std_memory",
	"memory_trend",
	"mean_requests",
	"request_spike_count",
	"throughput_delta",
	"cost_delta",
	"unit_economics_ratio",
}

// FeatureVector is the fixed-order statistical summary of a metric window.
type FeatureVector [FeatureCount]float64

// Get returns the value of a named feature and whether the name is known.
func (v FeatureVector) Get(name string) (float64, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return v[i], true
		}
	}
	return 0, false
}

// Scale returns a copy with every feature multiplied by factor.
func (v FeatureVector) Scale(factor float64) FeatureVector {
	var out FeatureVector
	for i := range v {
		out[i] = v[i] * factor
	}
	return out
}

// Slice returns the features as a slice in model input order.
func (v FeatureVector) Slice() []float64 {
	out := make([]float64, FeatureCount)
	copy(out, v[:])
	return out
}

// Map returns the features keyed by name.
func (v FeatureVector) Map() map[string]float64 {
	out := make(map[string]float64, FeatureCount)
	for i, name := range FeatureNames {
		out[name] = v[i]
	}
	return out
}
