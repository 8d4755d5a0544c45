package instrument

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Universe maps each exchange to the instruments tradable on it.
type Universe map[Exchange][]Instrument

// Validate rejects empty exchange names, invalid pairs and duplicates within
// one exchange.
func (u Universe) Validate() error {
	for ex, insts := range u {
		if strings.TrimSpace(string(ex)) == "" {
			return fmt.Errorf("instrument: universe contains an empty exchange name")
		}
		seen := make(map[Instrument]struct{}, len(insts))
		for _, inst := range insts {
			if !inst.Valid() {
				return fmt.Errorf("instrument: exchange %s lists an invalid instrument %+v", ex, inst)
			}
			if _, dup := seen[inst]; dup {
				return fmt.Errorf("instrument: exchange %s lists %s twice", ex, inst)
			}
			seen[inst] = struct{}{}
		}
	}
	return nil
}

// Count is the number of (exchange, instrument) pairs.
func (u Universe) Count() int {
	n := 0
	for _, insts := range u {
		n += len(insts)
	}
	return n
}

func (u Universe) Contains(ex Exchange, inst Instrument) bool {
	for _, candidate := range u[ex] {
		if candidate == inst {
			return true
		}
	}
	return false
}

// Exchanges returns the exchange names in lexical order.
func (u Universe) Exchanges() []Exchange {
	out := make([]Exchange, 0, len(u))
	for ex := range u {
		out = append(out, ex)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Keys flattens the universe in deterministic order: exchanges sorted,
// instruments in their listed order.
func (u Universe) Keys() []Key {
	keys := make([]Key, 0, u.Count())
	for _, ex := range u.Exchanges() {
		for _, inst := range u[ex] {
			keys = append(keys, Key{Exchange: ex, Instrument: inst})
		}
	}
	return keys
}

// ParseUniverse builds a Universe from exchange -> raw symbol lists.
func ParseUniverse(raw map[string][]string) (Universe, error) {
	u := make(Universe, len(raw))
	for name, symbols := range raw {
		ex := Exchange(strings.ToLower(strings.TrimSpace(name)))
		insts := make([]Instrument, 0, len(symbols))
		for _, sym := range symbols {
			inst, err := Parse(sym)
			if err != nil {
				return nil, fmt.Errorf("exchange %s: %w", name, err)
			}
			insts = append(insts, inst)
		}
		u[ex] = append(u[ex], insts...)
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

// LoadUniverse reads a YAML document of the form
//
//	binance: [BTC/USDT, ETHUSDT]
//	kraken: [XBT-EUR]
func LoadUniverse(path string) (Universe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading instrument universe failed (%s): %w", path, err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing instrument universe failed (%s): %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("instrument universe %s is empty", path)
	}
	return ParseUniverse(raw)
}
