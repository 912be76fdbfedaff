package ml

import (
	"math"
	"strconv"
	"strings"
)

var (
	lexicalPositive = map[string]struct{}{"yes": {}, "high": {}, "positive": {}, "public": {}, "male": {}}
	lexicalNegative = map[string]struct{}{"no": {}, "low": {}, "negative": {}, "private": {}, "female": {}}
)

// EncodeLexical turns a raw form value into a number: yes/high/positive/
// public/male give 1, no/low/negative/private/female give 0, anything else
// is parsed as a float. ok is false when the value could not be parsed, in
// which case 0 is returned.
func EncodeLexical(raw string) (value float64, ok bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if _, hit := lexicalPositive[s]; hit {
		return 1, true
	}
	if _, hit := lexicalNegative[s]; hit {
		return 0, true
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// InputPreprocessor encodes raw form input into a model's feature space
// using the encoding policy and scalers fitted at training time.
type InputPreprocessor struct {
	model *TrainedModel
}

func NewInputPreprocessor(m *TrainedModel) *InputPreprocessor {
	return &InputPreprocessor{model: m}
}

// Transform returns the feature vector for req in model feature order.
// Missing and unparseable values become 0 and are listed in malformed;
// categorical values not seen in training are listed in unknown.
func (p *InputPreprocessor) Transform(req PredictionRequest) (vector []float64, malformed, unknown []string) {
	vector = make([]float64, len(p.model.Features))
	for i, name := range p.model.Features {
		raw, present := req.Get(name)
		if !present || strings.TrimSpace(raw) == "" {
			malformed = append(malformed, name)
			vector[i] = p.scale(name, 0)
			continue
		}

		if categories, ok := p.model.Encoding[name]; ok {
			code, seen := categories.Code(raw)
			if !seen {
				unknown = append(unknown, name)
			}
			vector[i] = code
			continue
		}

		v, ok := EncodeLexical(raw)
		if !ok {
			malformed = append(malformed, name)
		}
		vector[i] = p.scale(name, v)
	}
	return vector, malformed, unknown
}

func (p *InputPreprocessor) scale(name string, v float64) float64 {
	if _, ok := p.model.Encoding[name]; ok {
		return v
	}
	if s, ok := p.model.Scalers[name]; ok {
		return s.Apply(v)
	}
	return v
}

// Output maps a model-space prediction back to raw target units.
func (p *InputPreprocessor) Output(y float64) float64 {
	if s, ok := p.model.Scalers[p.model.Target]; ok {
		return s.Invert(y)
	}
	return y
}
