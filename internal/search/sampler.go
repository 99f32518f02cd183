package search

import (
	"math"
	"math/rand"
	"sort"

	"github.com/modelpilot/modelpilot/internal/model"
)

// sampler draws hyperparameter configurations, Tree-structured-Parzen style:
// the first startup trials sample uniformly from the configured ranges; later
// draws split the history at the gamma quantile and prefer candidates whose
// kernel density under the good trials dominates the density under the rest.
type sampler struct {
	space         []model.ParamSpec
	rng           *rand.Rand
	startupTrials int
	gamma         float64
	nCandidates   int
}

func newSampler(space []model.ParamSpec, seed int64, startupTrials int) *sampler {
	if startupTrials < 1 {
		startupTrials = 10
	}
	return &sampler{
		space:         space,
		rng:           rand.New(rand.NewSource(seed)),
		startupTrials: startupTrials,
		gamma:         0.25,
		nCandidates:   24,
	}
}

// Sample draws the next configuration given the completed trial history. The
// caller is the single engine goroutine, so no locking is needed.
func (s *sampler) Sample(history []Trial) model.Params {
	good, bad := s.split(history)
	params := make(model.Params, len(s.space))
	for _, spec := range s.space {
		if len(good) == 0 {
			params[spec.Name] = s.uniform(spec)
			continue
		}
		params[spec.Name] = s.guided(spec, good, bad)
	}
	return params
}

// split partitions usable history into good (top gamma quantile) and bad.
func (s *sampler) split(history []Trial) (good, bad []Trial) {
	var usable []Trial
	for _, t := range history {
		if t.Err == "" {
			usable = append(usable, t)
		}
	}
	if len(usable) < s.startupTrials {
		return nil, nil
	}
	sorted := append([]Trial(nil), usable...)
	sort.SliceStable(sorted, func(a, b int) bool { return sorted[a].Score > sorted[b].Score })
	nGood := int(math.Ceil(s.gamma * float64(len(sorted))))
	if nGood < 1 {
		nGood = 1
	}
	return sorted[:nGood], sorted[nGood:]
}

// uniform draws from the configured range of spec on its natural scale.
func (s *sampler) uniform(spec model.ParamSpec) float64 {
	switch spec.Kind {
	case model.LogFloatParam:
		lo, hi := math.Log(spec.Min), math.Log(spec.Max)
		return math.Exp(lo + s.rng.Float64()*(hi-lo))
	case model.IntParam:
		return math.Round(spec.Min + s.rng.Float64()*(spec.Max-spec.Min))
	default:
		return spec.Min + s.rng.Float64()*(spec.Max-spec.Min)
	}
}

// guided scores candidate draws by the ratio of good-history density to
// bad-history density and returns the best candidate.
func (s *sampler) guided(spec model.ParamSpec, good, bad []Trial) float64 {
	goodVals := valuesFor(spec, good)
	badVals := valuesFor(spec, bad)
	bandwidth := s.bandwidth(spec)

	best := s.uniform(spec)
	bestRatio := math.Inf(-1)
	for c := 0; c < s.nCandidates; c++ {
		// Perturb a random good value; fall back to uniform occasionally to
		// keep exploring.
		var candidate float64
		if c%4 == 3 || len(goodVals) == 0 {
			candidate = s.uniform(spec)
		} else {
			center := goodVals[s.rng.Intn(len(goodVals))]
			candidate = s.clamp(spec, center+s.rng.NormFloat64()*bandwidth)
		}
		ratio := kernelDensity(candidate, goodVals, bandwidth) /
			math.Max(kernelDensity(candidate, badVals, bandwidth), 1e-12)
		if ratio > bestRatio {
			bestRatio = ratio
			best = candidate
		}
	}
	if spec.Kind == model.IntParam {
		best = math.Round(best)
	}
	return best
}

// bandwidth is a tenth of the parameter range. Log-scaled parameters get a
// tenth of the upper decade so small values are not drowned out.
func (s *sampler) bandwidth(spec model.ParamSpec) float64 {
	if spec.Kind == model.LogFloatParam {
		return math.Max(spec.Max/10, 1e-9)
	}
	return math.Max((spec.Max-spec.Min)/10, 1e-9)
}

func (s *sampler) clamp(spec model.ParamSpec, v float64) float64 {
	if v < spec.Min {
		return spec.Min
	}
	if v > spec.Max {
		return spec.Max
	}
	return v
}

func valuesFor(spec model.ParamSpec, trials []Trial) []float64 {
	out := make([]float64, 0, len(trials))
	for _, t := range trials {
		if v, ok := t.Params[spec.Name]; ok {
			out = append(out, v)
		}
	}
	return out
}

// kernelDensity is a Gaussian kernel density estimate at x.
func kernelDensity(x float64, values []float64, bandwidth float64) float64 {
	if len(values) == 0 {
		return 1e-12
	}
	sum := 0.0
	for _, v := range values {
		z := (x - v) / bandwidth
		sum += math.Exp(-0.5 * z * z)
	}
	return sum / (float64(len(values)) * bandwidth * math.Sqrt(2*math.Pi))
}
