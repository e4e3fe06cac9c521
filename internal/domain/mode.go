package domain

import "fmt"

// Mode selects how the risk-aversion coefficient is produced.
// The mode is resolved once at configuration time; the pricing engine
// consumes only the resolved numeric gamma, never the mode tag.
type Mode int

const (
	// ModeFixed uses the configured risk factor unchanged
	ModeFixed Mode = iota
	// ModeOnlineAdaptive adjusts gamma via the reward-driven online learner
	ModeOnlineAdaptive
	// ModeRuleAdaptive derives gamma from market regime rules each refresh
	ModeRuleAdaptive
	// ModeAutoOptimize bypasses the Avellaneda-Stoikov model and derives
	// spreads directly from volatility and target probabilities
	ModeAutoOptimize
)

var modeNames = map[Mode]string{
	ModeFixed:          "fixed",
	ModeOnlineAdaptive: "online_adaptive",
	ModeRuleAdaptive:   "rule_adaptive",
	ModeAutoOptimize:   "auto_optimize",
}

// ParseMode maps a configuration string onto a Mode
func ParseMode(s string) (Mode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return ModeFixed, fmt.Errorf("unknown mode %q", s)
}

// String returns the configuration name of the mode
func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the mode as its configuration name
func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte(`"` + m.String() + `"`), nil
}

// UnmarshalJSON decodes a mode from its configuration name
func (m *Mode) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
