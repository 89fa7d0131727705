package backtest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Weight is the target share of one symbol in the portfolio value.
type Weight struct {
	Symbol string
	Weight float64
}

// Allocation maps symbols to target weights. Order is significant: trades and
// liquidations always visit symbols in that order so that runs are reproducible.
type Allocation []Weight

// weightTolerance is how far the weights may sum away from 1.
const weightTolerance = 1e-6

// ParseAllocation reads "SPY=0.6,QQQ=0.3,BIL=0.1".
func ParseAllocation(s string) (Allocation, error) {
	var a Allocation
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sym, w, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("invalid allocation entry %q, want SYMBOL=weight", part)
		}
		weight, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", sym, err)
		}
		a = append(a, Weight{Symbol: strings.ToUpper(strings.TrimSpace(sym)), Weight: weight})
	}
	return a, nil
}

// Symbols returns the symbols in allocation order.
func (a Allocation) Symbols() []string {
	symbols := make([]string, len(a))
	for i, w := range a {
		symbols[i] = w.Symbol
	}
	return symbols
}

// Of returns the target weight of symbol, 0 if absent.
func (a Allocation) Of(symbol string) float64 {
	for _, w := range a {
		if w.Symbol == symbol {
			return w.Weight
		}
	}
	return 0
}

// Sum returns the total of all weights.
func (a Allocation) Sum() float64 {
	var sum float64
	for _, w := range a {
		sum += w.Weight
	}
	return sum
}

// Validate checks what the engine does not: weights are positive, unique and sum to 1.
func (a Allocation) Validate() error {
	if len(a) == 0 {
		return configErrorf("allocation is empty")
	}
	seen := make(map[string]bool, len(a))
	for _, w := range a {
		if w.Symbol == "" {
			return configErrorf("allocation has an empty symbol")
		}
		if seen[w.Symbol] {
			return configErrorf("symbol %s is allocated twice", w.Symbol)
		}
		seen[w.Symbol] = true
		if w.Weight < 0 {
			return configErrorf("negative weight %v for %s", w.Weight, w.Symbol)
		}
	}
	if sum := a.Sum(); math.Abs(sum-1) > weightTolerance {
		return configErrorf("weights sum to %v, want 1", sum)
	}
	return nil
}

func (a Allocation) String() string {
	parts := make([]string, len(a))
	for i, w := range a {
		parts[i] = fmt.Sprintf("%s=%s", w.Symbol, strconv.FormatFloat(w.Weight, 'f', -1, 64))
	}
	return strings.Join(parts, ",")
}

// decimals returns the weights as exact decimals, keyed by symbol.
func (a Allocation) decimals() map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(a))
	for _, w := range a {
		m[w.Symbol] = decimal.NewFromFloat(w.Weight)
	}
	return m
}

// MarshalJSON writes the allocation as a JSON object, keeping the order.
func (a Allocation) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, w := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(w.Symbol)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(w.Weight, 'f', -1, 64))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object {"SPY": 0.6, ...} in document order.
func (a *Allocation) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("allocation must be a JSON object, got %v", tok)
	}
	var res Allocation
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		symbol, _ := tok.(string)
		var weight float64
		if err := dec.Decode(&weight); err != nil {
			return fmt.Errorf("invalid weight for %s: %w", symbol, err)
		}
		res = append(res, Weight{Symbol: strings.ToUpper(symbol), Weight: weight})
	}
	*a = res
	return nil
}

// UnmarshalYAML reads a YAML mapping in document order.
func (a *Allocation) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: allocation must be a mapping", node.Line)
	}
	var res Allocation
	for i := 0; i+1 < len(node.Content); i += 2 {
		var weight float64
		if err := node.Content[i+1].Decode(&weight); err != nil {
			return fmt.Errorf("line %d: invalid weight for %s: %w", node.Content[i+1].Line, node.Content[i].Value, err)
		}
		res = append(res, Weight{Symbol: strings.ToUpper(node.Content[i].Value), Weight: weight})
	}
	*a = res
	return nil
}
