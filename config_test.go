package irkgen

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/viper"
)

func TestParseSensitivityMode(t *testing.T) {
	for in, exp := range map[string]SensitivityMode{"IFT": IFT, "iftr": IFTR, "": IFTR, " ift ": IFT} {
		mode, err := ParseSensitivityMode(in)
		if err != nil || mode != exp {
			t.Fatalf("%q: %v %v", in, mode, err)
		}
	}
	if _, err := ParseSensitivityMode("adjoint"); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown mode: %v", err)
	}
}

func TestLoadOptions(t *testing.T) {
	dir := t.TempDir()
	conf := `[integrator]
name = "GaussLegendre4"
steps = 40
iterations = 2
init_iterations = 3
sensitivity = "IFT"
continuous_output = true

[export]
unroll = true
real_type = "double"
prefix = "acado_"
`
	if err := os.WriteFile(filepath.Join(dir, "conf.toml"), []byte(conf), 0o644); err != nil {
		t.Fatal(err)
	}
	opts, err := LoadOptions(dir)
	if err != nil {
		t.Fatal(err)
	}
	exp := Options{
		Integrator: "GaussLegendre4", Steps: 40, NumIts: 2, NumItsInit: 3, Sensitivity: IFT,
		ContinuousOutput: true, Unroll: true, RealType: "double", IntType: "int", Precision: 16, Prefix: "acado_",
	}
	if diff := cmp.Diff(exp, opts); diff != "" {
		t.Fatalf("options (-want +got):\n%s", diff)
	}

	t.Setenv("IRKGEN_CONFIG", dir)
	if opts, err = LoadOptions(""); err != nil || opts.Steps != 40 {
		t.Fatalf("from the environment: %+v %v", opts, err)
	}
	t.Setenv("IRKGEN_CONFIG", "")
	if opts, err = LoadOptions(""); err != nil || opts != DefaultOptions() {
		t.Fatalf("defaults: %+v %v", opts, err)
	}
	if _, err = LoadOptions(filepath.Join(dir, "missing")); !errors.Is(err, ErrResource) {
		t.Fatalf("missing configuration: %v", err)
	}
}

func TestOptionsValidate(t *testing.T) {
	v := viper.New()
	v.Set("integrator.steps", 0)
	if _, err := OptionsFromViper(v); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("no steps: %v", err)
	}
	v = viper.New()
	v.Set("export.precision", 30)
	if _, err := OptionsFromViper(v); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("precision: %v", err)
	}
	v = viper.New()
	v.Set("integrator.sensitivity", "forward")
	if _, err := OptionsFromViper(v); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("sensitivity: %v", err)
	}
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatal(err)
	}
}
