package params

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Distributions accept either the mapping form ({mean: 1, std: 2}) or the
// tuple form ([1, 2]) used by older parameter sheets.

type NormalDist struct {
	Mean float64 `yaml:"mean" json:"mean"`
	Std  float64 `yaml:"std" json:"std"`
}

type BetaDist struct {
	Alpha float64 `yaml:"alpha" json:"alpha"`
	Beta  float64 `yaml:"beta" json:"beta"`
	Scale float64 `yaml:"scale" json:"scale"`
}

type LogNormalDist struct {
	Mu    float64 `yaml:"mu" json:"mu"`
	Sigma float64 `yaml:"sigma" json:"sigma"`
}

type UniformDist struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

func (d *NormalDist) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		return decodeTuple(n, &d.Mean, &d.Std)
	}
	type plain NormalDist
	return n.Decode((*plain)(d))
}

func (d *BetaDist) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		d.Scale = 1
		return decodeTuple(n, &d.Alpha, &d.Beta, &d.Scale)
	}
	type plain BetaDist
	v := plain(*d)
	if v.Scale == 0 {
		v.Scale = 1
	}
	if err := n.Decode(&v); err != nil {
		return err
	}
	*d = BetaDist(v)
	return nil
}

func (d *LogNormalDist) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		return decodeTuple(n, &d.Mu, &d.Sigma)
	}
	type plain LogNormalDist
	return n.Decode((*plain)(d))
}

func (d *UniformDist) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		return decodeTuple(n, &d.Min, &d.Max)
	}
	type plain UniformDist
	return n.Decode((*plain)(d))
}

// decodeTuple fills dst from a sequence. Trailing targets are optional.
func decodeTuple(n *yaml.Node, dst ...*float64) error {
	if len(n.Content) < 2 || len(n.Content) > len(dst) {
		return fmt.Errorf("line %d: expected %d..%d values, got %d", n.Line, 2, len(dst), len(n.Content))
	}
	for i, c := range n.Content {
		if err := c.Decode(dst[i]); err != nil {
			return err
		}
	}
	return nil
}
