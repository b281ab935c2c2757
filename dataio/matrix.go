package dataio

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ChristopherRabotin/irkgen"
	"gonum.org/v1/gonum/mat"
)

// ReadMatrix reads a dense matrix, one space separated row per line.
// Lines starting with # are comments.
func ReadMatrix(r io.Reader) (*mat.Dense, error) {
	cr := csv.NewReader(r)
	cr.Comma = ' '
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	var data []float64
	cols := -1
	rows := 0
	for {
		record, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("%w: %v", irkgen.ErrResource, err)
		}
		fields := record[:0]
		for _, f := range record {
			if f = strings.TrimSpace(f); f != "" {
				fields = append(fields, f)
			}
		}
		if len(fields) == 0 {
			continue
		}
		if cols == -1 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, fmt.Errorf("%w: row %d has %d entries, expected %d", irkgen.ErrResource, rows, len(fields), cols)
		}
		for _, f := range fields {
			val, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: %v", irkgen.ErrResource, rows, err)
			}
			data = append(data, val)
		}
		rows++
	}
	if rows == 0 {
		return nil, fmt.Errorf("%w: empty matrix", irkgen.ErrResource)
	}
	return mat.NewDense(rows, cols, data), nil
}

// LoadMatrix reads the matrix stored in filename.
func LoadMatrix(filename string) (*mat.Dense, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", irkgen.ErrResource, err)
	}
	defer f.Close()
	m, err := ReadMatrix(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return m, nil
}

// WriteMatrix writes m in the format read by ReadMatrix.
func WriteMatrix(w io.Writer, m mat.Matrix) error {
	r, c := m.Dims()
	for i := 0; i < r; i++ {
		fields := make([]string, c)
		for j := range fields {
			fields[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if _, err := fmt.Fprintln(w, strings.Join(fields, " ")); err != nil {
			return fmt.Errorf("%w: %v", irkgen.ErrResource, err)
		}
	}
	return nil
}
