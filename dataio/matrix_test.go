package dataio

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ChristopherRabotin/irkgen"
	"gonum.org/v1/gonum/mat"
)

func TestReadMatrix(t *testing.T) {
	src := `# M1
1  0.5 -2
# continued
3e-1 4 5
`
	m, err := ReadMatrix(strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	exp := mat.NewDense(2, 3, []float64{1, 0.5, -2, 0.3, 4, 5})
	if !mat.Equal(m, exp) {
		t.Fatalf("read\n%v\nexpected\n%v", mat.Formatted(m), mat.Formatted(exp))
	}
	var buf bytes.Buffer
	if err := WriteMatrix(&buf, m); err != nil {
		t.Fatal(err)
	}
	back, err := ReadMatrix(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(back, m) {
		t.Fatalf("written matrix read back as\n%v", mat.Formatted(back))
	}
}

func TestReadMatrixErrors(t *testing.T) {
	for name, src := range map[string]string{
		"empty":   "# nothing\n",
		"ragged":  "1 2\n3\n",
		"invalid": "1 two\n",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := ReadMatrix(strings.NewReader(src)); !errors.Is(err, irkgen.ErrResource) {
				t.Fatalf("expected a resource error, got %v", err)
			}
		})
	}
	if _, err := LoadMatrix(filepath.Join(t.TempDir(), "missing.txt")); !errors.Is(err, irkgen.ErrResource) {
		t.Fatalf("missing file: %v", err)
	}
}

func TestStreamStates(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "states.txt")
	histChan := make(chan State)
	done := make(chan error)
	go func() { done <- StreamStates(filename, 2, histChan) }()
	histChan <- State{Interval: 0, X: []float64{1, 2}, Reference: []float64{1, 2.5}}
	histChan <- State{Interval: 1, X: []float64{3, 4}, Reference: []float64{3, 4}}
	close(histChan)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(filename)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	m, err := ReadMatrix(f)
	if err != nil {
		t.Fatal(err)
	}
	exp := mat.NewDense(2, 5, []float64{0, 1, 2, 1, 2.5, 1, 3, 4, 3, 4})
	if !mat.EqualApprox(m, exp, 1e-12) {
		t.Fatalf("streamed\n%v", mat.Formatted(m))
	}
}
