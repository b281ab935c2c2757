package irkgen

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// SensitivityMode selects how the sensitivities are propagated.
type SensitivityMode uint8

const (
	// IFT re-evaluates the Jacobian at the converged stages and refactorizes once per step.
	IFT SensitivityMode = iota
	// IFTR reuses the Jacobian and factorization of the first Newton iteration of the step.
	IFTR
)

func (m SensitivityMode) String() string {
	if m == IFT {
		return "IFT"
	}
	return "IFTR"
}

// ParseSensitivityMode reads IFT or IFTR, case insensitive.
func ParseSensitivityMode(s string) (SensitivityMode, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IFT":
		return IFT, nil
	case "IFTR", "":
		return IFTR, nil
	}
	return IFTR, fmt.Errorf("%w: unknown sensitivity mode %q", ErrConfiguration, s)
}

// Options configures one export.
type Options struct {
	Integrator       string          // registry name of the tableau
	Steps            int             // integrator steps per horizon on an equidistant grid
	NumIts           int             // Newton iterations per step
	NumItsInit       int             // extra Newton iterations on the first step after a reset
	Sensitivity      SensitivityMode // IFT or IFTR
	ContinuousOutput bool
	Unroll           bool // unroll the loops of the linear solver
	RealType         string
	IntType          string
	Precision        int // significant digits of real literals
	Prefix           string
}

// DefaultOptions returns the defaults of the exporter.
func DefaultOptions() Options {
	return Options{
		Integrator:  "RadauIIA5",
		Steps:       30,
		NumIts:      3,
		NumItsInit:  0,
		Sensitivity: IFTR,
		RealType:    "real_t",
		IntType:     "int",
		Precision:   16,
		Prefix:      "irk_",
	}
}

// Validate checks the options on their own.
func (o Options) Validate() error {
	switch {
	case o.Steps <= 0:
		return fmt.Errorf("%w: %d integrator steps", ErrConfiguration, o.Steps)
	case o.NumIts <= 0:
		return fmt.Errorf("%w: %d Newton iterations", ErrConfiguration, o.NumIts)
	case o.NumItsInit < 0:
		return fmt.Errorf("%w: %d initial Newton iterations", ErrConfiguration, o.NumItsInit)
	case o.Precision <= 0 || o.Precision > 17:
		return fmt.Errorf("%w: precision of %d digits", ErrConfiguration, o.Precision)
	case o.RealType == "" || o.IntType == "":
		return fmt.Errorf("%w: empty type name", ErrConfiguration)
	}
	return nil
}

// OptionsFromViper reads the integrator.* and export.* keys over the defaults.
func OptionsFromViper(v *viper.Viper) (Options, error) {
	opts := DefaultOptions()
	if v.IsSet("integrator.name") {
		opts.Integrator = v.GetString("integrator.name")
	}
	if v.IsSet("integrator.steps") {
		opts.Steps = v.GetInt("integrator.steps")
	}
	if v.IsSet("integrator.iterations") {
		opts.NumIts = v.GetInt("integrator.iterations")
	}
	if v.IsSet("integrator.init_iterations") {
		opts.NumItsInit = v.GetInt("integrator.init_iterations")
	}
	if v.IsSet("integrator.sensitivity") {
		mode, err := ParseSensitivityMode(v.GetString("integrator.sensitivity"))
		if err != nil {
			return opts, err
		}
		opts.Sensitivity = mode
	}
	opts.ContinuousOutput = v.GetBool("integrator.continuous_output")
	opts.Unroll = v.GetBool("export.unroll")
	if v.IsSet("export.real_type") {
		opts.RealType = v.GetString("export.real_type")
	}
	if v.IsSet("export.int_type") {
		opts.IntType = v.GetString("export.int_type")
	}
	if v.IsSet("export.precision") {
		opts.Precision = v.GetInt("export.precision")
	}
	if v.IsSet("export.prefix") {
		opts.Prefix = v.GetString("export.prefix")
	}
	return opts, opts.Validate()
}

// LoadOptions reads conf.{toml,yaml,json} from dir, or from $IRKGEN_CONFIG when dir is empty.
func LoadOptions(dir string) (Options, error) {
	if dir == "" {
		dir = os.Getenv("IRKGEN_CONFIG")
	}
	if dir == "" {
		return DefaultOptions(), nil
	}
	v := viper.New()
	v.SetConfigName("conf")
	v.AddConfigPath(dir)
	if err := v.ReadInConfig(); err != nil {
		return DefaultOptions(), fmt.Errorf("%w: %s/conf not readable: %v", ErrResource, dir, err)
	}
	return OptionsFromViper(v)
}
