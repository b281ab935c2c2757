package dataio

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ChristopherRabotin/irkgen"
	"github.com/ChristopherRabotin/irkgen/symbolic"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/mat"
)

// Problem is a model file: the model, the export options and the verification point.
type Problem struct {
	Name    string
	Model   *irkgen.Model
	Options irkgen.Options
	X0      []float64
	U, P    []float64
}

// Symbols returns the identifiers of the model expressions: x0.., z0.., u0.., p0.., dx0.. and t.
func Symbols(d irkgen.Dimensions) map[string]symbolic.Operator {
	symbols := map[string]symbolic.Operator{"t": symbolic.T()}
	add := func(prefix string, n int, leaf func(int) symbolic.Operator) {
		for i := 0; i < n; i++ {
			symbols[prefix+strconv.Itoa(i)] = leaf(i)
		}
	}
	add("x", d.NX(), symbolic.X)
	add("z", d.NXA, symbolic.Z)
	add("u", d.NU, symbolic.U)
	add("p", d.NP, symbolic.P)
	add("dx", d.NDX, symbolic.DX)
	return symbols
}

// LoadProblem reads a model file. Keys of conf.{toml,yaml,json} in confDir are read first,
// so that the model file only needs to override the integrator and export options it changes.
func LoadProblem(filename, confDir string) (*Problem, error) {
	v := viper.New()
	if confDir != "" {
		v.SetConfigName("conf")
		v.AddConfigPath(confDir)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: %s/conf not readable: %v", irkgen.ErrResource, confDir, err)
		}
	}
	v.SetConfigFile(filename)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", irkgen.ErrResource, filename, err)
	}
	pb, err := problemFromViper(v, filepath.Dir(filename))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	if pb.Name == "" {
		pb.Name = strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	}
	return pb, nil
}

func problemFromViper(v *viper.Viper, dir string) (*Problem, error) {
	opts, err := irkgen.OptionsFromViper(v)
	if err != nil {
		return nil, err
	}
	pb := &Problem{Name: v.GetString("model.name"), Options: opts, Model: irkgen.NewModel()}
	d := irkgen.Dimensions{
		NX1: v.GetInt("dimensions.nx1"),
		NX2: v.GetInt("dimensions.nx2"),
		NX3: v.GetInt("dimensions.nx3"),
		NXA: v.GetInt("dimensions.nxa"),
		NU:  v.GetInt("dimensions.nu"),
		NP:  v.GetInt("dimensions.np"),
		NDX: v.GetInt("dimensions.ndx"),
	}
	m := pb.Model
	if err := m.SetDimensions(d); err != nil {
		return nil, err
	}
	symbols := Symbols(d)

	if v.IsSet("rhs.external") {
		names := v.GetStringSlice("rhs.external")
		if len(names) != 2 {
			return nil, fmt.Errorf("%w: rhs.external needs the function and its Jacobian", irkgen.ErrConfiguration)
		}
		if err := m.SetExternalRHS(names[0], names[1]); err != nil {
			return nil, err
		}
	} else if v.IsSet("rhs.expressions") {
		ops, err := parseAll(v.GetStringSlice("rhs.expressions"), symbols)
		if err != nil {
			return nil, fmt.Errorf("rhs: %w", err)
		}
		if err := m.SetRHS(ops...); err != nil {
			return nil, err
		}
	}

	if d.NX1 > 0 {
		mats, err := loadMatrices(v, dir, "linear_input", "m1", "a1", "b1")
		if err != nil {
			return nil, err
		}
		if err := m.SetLinearInput(mats[0], mats[1], mats[2]); err != nil {
			return nil, err
		}
	}
	if d.NX3 > 0 {
		mats, err := loadMatrices(v, dir, "linear_output", "m3", "a3")
		if err != nil {
			return nil, err
		}
		f3, err := parseAll(v.GetStringSlice("linear_output.f3"), symbols)
		if err != nil {
			return nil, fmt.Errorf("f3: %w", err)
		}
		if err := m.SetLinearOutput(mats[0], mats[1], f3...); err != nil {
			return nil, err
		}
	}

	var measurements []int
	for no := 0; v.IsSet(fmt.Sprintf("outputs.%d", no)); no++ {
		key := func(k string) string { return fmt.Sprintf("outputs.%d.%s", no, k) }
		var colInd, rowPtr []int
		if v.IsSet(key("row_ptr")) {
			colInd, rowPtr = v.GetIntSlice(key("col_ind")), v.GetIntSlice(key("row_ptr"))
		}
		if v.IsSet(key("external")) {
			names := v.GetStringSlice(key("external"))
			if len(names) != 2 {
				return nil, fmt.Errorf("%w: output %d: external needs the function and its Jacobian", irkgen.ErrConfiguration, no)
			}
			if err := m.AddExternalOutput(names[0], names[1], v.GetInt(key("dim")), colInd, rowPtr); err != nil {
				return nil, fmt.Errorf("output %d: %w", no, err)
			}
		} else {
			h, err := parseAll(v.GetStringSlice(key("expressions")), symbols)
			if err != nil {
				return nil, fmt.Errorf("output %d: %w", no, err)
			}
			if err := m.AddOutput(h, colInd, rowPtr); err != nil {
				return nil, fmt.Errorf("output %d: %w", no, err)
			}
		}
		measurements = append(measurements, v.GetInt(key("measurements")))
	}
	if len(measurements) > 0 {
		if err := m.SetMeasurements(measurements); err != nil {
			return nil, err
		}
	}

	horizon := v.GetFloat64("grid.horizon")
	if v.IsSet("grid.steps") {
		err = m.SetStepGrid(horizon, v.GetIntSlice("grid.steps"))
	} else {
		err = m.SetGrid(horizon, v.GetInt("grid.intervals"))
	}
	if err != nil {
		return nil, err
	}

	if pb.X0, err = floatSlice(v, "verify.x0", d.NX()); err != nil {
		return nil, err
	}
	if pb.U, err = floatSlice(v, "verify.u", d.NU); err != nil {
		return nil, err
	}
	if pb.P, err = floatSlice(v, "verify.p", d.NP); err != nil {
		return nil, err
	}
	return pb, nil
}

func parseAll(srcs []string, symbols map[string]symbolic.Operator) ([]symbolic.Operator, error) {
	ops := make([]symbolic.Operator, len(srcs))
	for i, src := range srcs {
		op, err := symbolic.Parse(src, symbols)
		if err != nil {
			return nil, fmt.Errorf("%w: expression %d: %v", irkgen.ErrConfiguration, i, err)
		}
		ops[i] = op
	}
	return ops, nil
}

// loadMatrices reads the matrix files named by section.key, relative to dir. Absent keys give nil.
func loadMatrices(v *viper.Viper, dir, section string, keys ...string) ([]*mat.Dense, error) {
	mats := make([]*mat.Dense, len(keys))
	for i, k := range keys {
		name := v.GetString(section + "." + k)
		if name == "" {
			continue
		}
		if !filepath.IsAbs(name) {
			name = filepath.Join(dir, name)
		}
		m, err := LoadMatrix(name)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", section, k, err)
		}
		mats[i] = m
	}
	return mats, nil
}

// floatSlice reads a list of n numbers; an absent key gives zeros.
func floatSlice(v *viper.Viper, key string, n int) ([]float64, error) {
	if !v.IsSet(key) {
		return make([]float64, n), nil
	}
	raw, ok := v.Get(key).([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a list", irkgen.ErrConfiguration, key)
	}
	vals := lo.Map(raw, func(item interface{}, _ int) string { return fmt.Sprint(item) })
	out := make([]float64, len(vals))
	for i, s := range vals {
		val, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s[%d]: %v", irkgen.ErrConfiguration, key, i, err)
		}
		out[i] = val
	}
	if len(out) != n {
		return nil, fmt.Errorf("%w: %s has %d entries, expected %d", irkgen.ErrConfiguration, key, len(out), n)
	}
	return out, nil
}
