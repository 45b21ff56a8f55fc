package config

import (
	"fmt"
	"path/filepath"
	"regexp"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/cairnlang/cairn/pkg/telemetry"
	"github.com/cairnlang/cairn/pkg/value"
)

// DefaultFile is the run configuration looked up when none is given.
const DefaultFile = "cairn.yaml"

// RunConfig configures a CLI run. Relative paths are resolved against
// BaseDir, the directory holding the configuration file.
type RunConfig struct {
	// Program is the entry file evaluated when no file argument is given.
	Program string `yaml:"program" validate:"required"`

	// Inputs supplies top-level input values.
	Inputs map[string]interface{} `yaml:"inputs,omitempty"`

	// Schemas lists CUE provider schema globs.
	Schemas []string `yaml:"schemas,omitempty" validate:"dive,required"`

	// Validators maps a directive name to a Starlark script path.
	Validators map[string]string `yaml:"validators,omitempty" validate:"dive,keys,directive,endkeys,required"`

	Policy    PolicyConfig     `yaml:"policy"`
	State     StateConfig      `yaml:"state"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	BaseDir string `yaml:"-"`
}

// PolicyConfig selects the policies run against finalized entities.
type PolicyConfig struct {
	// Paths lists Rego file globs.
	Paths []string `yaml:"paths,omitempty" validate:"dive,required"`

	// FailOn is the lowest severity that fails a command.
	FailOn string `yaml:"fail_on" validate:"required,oneof=info warning error critical"`

	// Disabled names built-in policies to skip.
	Disabled []string `yaml:"disabled,omitempty"`

	// RequiredTags enables the required-tags policy when non-empty.
	RequiredTags []string `yaml:"required_tags,omitempty" validate:"dive,required"`
}

// StateConfig locates the state database.
type StateConfig struct {
	Path string `yaml:"path" validate:"required"`
}

var directiveName = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// DefaultRunConfig returns the configuration used without a cairn.yaml.
func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Program: "main.cairn",
		Policy: PolicyConfig{
			FailOn: "error",
		},
		State: StateConfig{
			Path: filepath.Join(".cairn", "state.db"),
		},
		Telemetry: *telemetry.DefaultConfig(),
		BaseDir:   ".",
	}
}

// LoadRunConfig reads a YAML or CUE run configuration over the defaults.
func LoadRunConfig(fs afero.Fs, path string) (*RunConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if filepath.Ext(path) == ".cue" {
		data, err = cueToYAML(path, data)
		if err != nil {
			return nil, err
		}
	}

	cfg := DefaultRunConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.BaseDir = filepath.Dir(path)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// cueToYAML evaluates a CUE configuration, which must be concrete, and
// exports it for the YAML decoder.
func cueToYAML(path string, src []byte) ([]byte, error) {
	v := cuecontext.New().CompileBytes(src, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config: %w", cueErrors(err))
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("config is not concrete: %w", cueErrors(err))
	}
	out, err := cueyaml.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("failed to export config: %w", err)
	}
	return out, nil
}

// Validate checks struct tags and the telemetry section.
func (c *RunConfig) Validate() error {
	v := validator.New()
	if err := v.RegisterValidation("directive", func(fl validator.FieldLevel) bool {
		return directiveName.MatchString(fl.Field().String())
	}); err != nil {
		return err
	}
	if err := v.Struct(c); err != nil {
		return err
	}
	return c.Telemetry.Validate()
}

// Resolve returns p relative to the configuration directory.
func (c *RunConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.BaseDir == "" {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

// ResolveAll resolves every path or glob in ps.
func (c *RunConfig) ResolveAll(ps []string) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = c.Resolve(p)
	}
	return out
}

// InputValues converts the configured inputs into runtime values.
func (c *RunConfig) InputValues() (map[string]value.Value, error) {
	out := make(map[string]value.Value, len(c.Inputs))
	for name, raw := range c.Inputs {
		v, err := value.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
