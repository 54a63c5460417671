package emotion

// OverrideRule remaps a low-confidence label to another one before the result is logged,
// spoken or drawn. The default rule turns a "sad" below 60% into "happy".
//
// This is a heuristic for classifiers that over-report sadness on resting faces. It is a
// labeled post-processing step and can be switched off in configuration.
type OverrideRule struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	From    string  `mapstructure:"from" yaml:"from"`
	To      string  `mapstructure:"to" yaml:"to"`
	Below   float64 `mapstructure:"below" yaml:"below"`
}

// DefaultOverride is the sad -> happy rule applied when nothing else is configured.
func DefaultOverride() OverrideRule {
	return OverrideRule{Enabled: true, From: Sad, To: Happy, Below: 60}
}

// Apply returns r with the rule applied. Confidence is left untouched.
func (o OverrideRule) Apply(r Result) Result {
	if r.Raw == "" {
		r.Raw = r.Dominant
	}
	if !o.Enabled || o.From == "" || o.To == "" {
		return r
	}
	if r.Dominant == o.From && r.Confidence < o.Below {
		r.Dominant = o.To
	}
	return r
}
