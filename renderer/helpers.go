package renderer

import (
	"bytes"
	"fmt"
	"io"

	"github.com/etnz/backtest"
)

// ConditionalBlock let you fully write a block and decide at the end to print it or not.
// If the block function returns true, the content is printed to w, otherwise it is discarded.
func ConditionalBlock(w io.Writer, block func(io.Writer) bool) {
	bw := &bytes.Buffer{}
	if block(bw) {
		io.Copy(w, bw)
	}
}

// pct formats a fraction as a percentage.
func pct(fraction float64) string { return backtest.PercentOf(fraction).String() }

func ratio(v float64) string { return fmt.Sprintf("%.2f", v) }
