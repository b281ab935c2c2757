package dataio

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ChristopherRabotin/irkgen"
)

// State is the state of the integrator at the end of one interval.
type State struct {
	Interval  int
	X         []float64
	Reference []float64 // optional
}

// ToText converts to one line of text.
func (s State) ToText() string {
	fields := []string{strconv.Itoa(s.Interval)}
	for _, v := range append(append([]float64(nil), s.X...), s.Reference...) {
		fields = append(fields, strconv.FormatFloat(v, 'e', 12, 64))
	}
	return strings.Join(fields, " ") + "\n"
}

// StreamStates writes the states received on histChan to filename until the channel is closed.
// The file is readable by ReadMatrix.
func StreamStates(filename string, nx int, histChan <-chan State) error {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("%w: %v", irkgen.ErrResource, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "# interval, %d states then the reference states\n", nx); err != nil {
		return fmt.Errorf("%w: %v", irkgen.ErrResource, err)
	}
	for state := range histChan {
		if _, err := f.WriteString(state.ToText()); err != nil {
			for range histChan {
				// Drain so the producer never blocks.
			}
			return fmt.Errorf("%w: %v", irkgen.ErrResource, err)
		}
	}
	return nil
}
