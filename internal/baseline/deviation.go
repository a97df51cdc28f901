package baseline

import (
	"fmt"
	"math"
)

// DeviationScorer computes a composite deviation score for a feature
// vector against a container's rolling history, combining a Mahalanobis-
// style distance with an entropy delta. Adapted from the teacher's
// anomaly engine. No analyzer calls it: no event carries its score, and
// it is never a trigger condition — every emission rule stays the literal
// threshold spec.md §4.2/§4.3 specify.
type DeviationScorer struct {
	entropyWeight float64
}

// NewDeviationScorer returns a scorer with the given entropy weight,
// clamped to [0, 1].
func NewDeviationScorer(entropyWeight float64) *DeviationScorer {
	if entropyWeight < 0 {
		entropyWeight = 0
	}
	if entropyWeight > 1 {
		entropyWeight = 1
	}
	return &DeviationScorer{entropyWeight: entropyWeight}
}

// Score computes A = mahal(x, mean, cov) + w * |H(x) - H(mean)| using a
// diagonal covariance built from each feature's own sample variance — the
// per-metric rings this package maintains don't carry cross-metric
// covariance, so the full Mahalanobis form degenerates to a variance-
// weighted Euclidean distance. Returns 0 with no error when any ring has
// fewer than minSamples observations (mirrors the teacher's "no baseline,
// no score" rule).
func (d *DeviationScorer) Score(x, history []float64) (float64, error) {
	if len(x) == 0 {
		return 0, fmt.Errorf("baseline: empty feature vector")
	}
	if len(history) < minSamples {
		return 0, nil
	}

	histMean := mean(history)
	histVar := variance(history, histMean)

	var mahal float64
	for _, xi := range x {
		diff := xi - histMean
		if histVar <= 0 {
			mahal += diff * diff
			continue
		}
		mahal += (diff * diff) / histVar
	}

	entropyDelta := math.Abs(shannonEntropy(x) - shannonEntropy(history))
	return mahal + d.entropyWeight*entropyDelta, nil
}

func variance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		diff := x - m
		sum += diff * diff
	}
	return sum / float64(len(xs)-1)
}

// shannonEntropy treats samples as a discrete distribution over their own
// values (bucketed by equality) and returns H in bits. Flat histories (all
// equal) correctly yield 0.
func shannonEntropy(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	counts := make(map[float64]int, len(samples))
	for _, s := range samples {
		counts[s]++
	}
	total := float64(len(samples))
	var h float64
	for _, c := range counts {
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}
