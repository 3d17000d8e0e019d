package cost

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed coefficients.yaml
var defaultCoefficientsYAML []byte

// Operator keys of the coefficient tables.
const (
	OpAggregate        = "Aggregate"
	OpFilter           = "Filter"
	OpHashTableBuild   = "HashTableBuild"
	OpRTreeBuild       = "RTreeBuild"
	OpRTreeQuery       = "RTreeQuery"
	OpPrefixSumBuild   = "PrefixSumBuild"
	OpPrefixSum2DBuild = "PrefixSum2DBuild"
	OpTable            = "Table"
)

// latencyOps and memoryOps are the entries every table must define.
var (
	latencyOps = []string{OpAggregate, OpFilter, OpHashTableBuild, OpRTreeBuild,
		OpRTreeQuery, OpPrefixSumBuild, OpPrefixSum2DBuild}
	memoryOps = []string{OpTable, OpHashTableBuild, OpRTreeBuild, OpPrefixSumBuild, OpPrefixSum2DBuild}
)

// DefaultNetworkRate is the per-cell transfer latency used when a table
// omits network_rate.
const DefaultNetworkRate = 1e-4

// ConfigError reports an unusable cost configuration: a malformed or
// incomplete coefficient table, or a base table whose row count cannot be
// determined.
type ConfigError struct {
	// Field locates the problem, e.g. "latency.Filter.server".
	Field string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Field != "" {
		return fmt.Sprintf("cost config: %s: %s", e.Field, msg)
	}
	return "cost config: " + msg
}

// Unwrap returns the underlying cause.
func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// Coefficients holds the fitted linear latency and memory functions.
type Coefficients struct {
	// NetworkRate is the latency per transferred cell (rows x columns).
	NetworkRate float64 `yaml:"network_rate"`

	// Latency maps an operator to its server and client coefficients.
	Latency map[string]SideCoefficients `yaml:"latency"`

	// Memory maps an operator to its memory coefficients.
	Memory map[string]MemoryCoefficients `yaml:"memory"`
}

// SideCoefficients are the latency coefficients of one operator on each
// side of the network.
type SideCoefficients struct {
	Server LatencyCoefficients `yaml:"server"`
	Client LatencyCoefficients `yaml:"client"`
}

// LatencyCoefficients weight the ten shape features of an operator.
type LatencyCoefficients struct {
	Bias                float64
	InputNumRows        float64
	InputNumCols        float64
	InputNumStringCols  float64
	InputSize           float64
	InputStringSize     float64
	OutputNumRows       float64
	OutputNumCols       float64
	OutputNumStringCols float64
	OutputSize          float64
	OutputStringSize    float64
}

// MemoryCoefficients weight the output shape of a structure.
type MemoryCoefficients struct {
	Bias                float64
	OutputNumRows       float64
	OutputNumCols       float64
	OutputNumStringCols float64
	OutputSize          float64
	OutputStringSize    float64
}

type field[T any] struct {
	key string
	ptr func(*T) *float64
}

var latencyFields = []field[LatencyCoefficients]{
	{"bias", func(c *LatencyCoefficients) *float64 { return &c.Bias }},
	{"input_num_rows", func(c *LatencyCoefficients) *float64 { return &c.InputNumRows }},
	{"input_num_cols", func(c *LatencyCoefficients) *float64 { return &c.InputNumCols }},
	{"input_num_string_cols", func(c *LatencyCoefficients) *float64 { return &c.InputNumStringCols }},
	{"input_size", func(c *LatencyCoefficients) *float64 { return &c.InputSize }},
	{"input_string_size", func(c *LatencyCoefficients) *float64 { return &c.InputStringSize }},
	{"output_num_rows", func(c *LatencyCoefficients) *float64 { return &c.OutputNumRows }},
	{"output_num_cols", func(c *LatencyCoefficients) *float64 { return &c.OutputNumCols }},
	{"output_num_string_cols", func(c *LatencyCoefficients) *float64 { return &c.OutputNumStringCols }},
	{"output_size", func(c *LatencyCoefficients) *float64 { return &c.OutputSize }},
	{"output_string_size", func(c *LatencyCoefficients) *float64 { return &c.OutputStringSize }},
}

var memoryFields = []field[MemoryCoefficients]{
	{"bias", func(c *MemoryCoefficients) *float64 { return &c.Bias }},
	{"output_num_rows", func(c *MemoryCoefficients) *float64 { return &c.OutputNumRows }},
	{"output_num_cols", func(c *MemoryCoefficients) *float64 { return &c.OutputNumCols }},
	{"output_num_string_cols", func(c *MemoryCoefficients) *float64 { return &c.OutputNumStringCols }},
	{"output_size", func(c *MemoryCoefficients) *float64 { return &c.OutputSize }},
	{"output_string_size", func(c *MemoryCoefficients) *float64 { return &c.OutputStringSize }},
}

// decodeFields fills dst from a mapping node, requiring exactly the keys of
// fields. The bias may be omitted and defaults to zero.
func decodeFields[T any](value *yaml.Node, dst *T, fields []field[T]) error {
	var raw map[string]float64
	if err := value.Decode(&raw); err != nil {
		return err
	}
	known := make(map[string]bool, len(fields))
	for _, f := range fields {
		known[f.key] = true
		v, ok := raw[f.key]
		if !ok && f.key != "bias" {
			return fmt.Errorf("line %d: missing coefficient %q", value.Line, f.key)
		}
		*f.ptr(dst) = v
	}
	var unknown []string
	for k := range raw {
		if !known[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("line %d: unknown coefficient %q", value.Line, unknown[0])
	}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *LatencyCoefficients) UnmarshalYAML(value *yaml.Node) error {
	return decodeFields(value, c, latencyFields)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *MemoryCoefficients) UnmarshalYAML(value *yaml.Node) error {
	return decodeFields(value, c, memoryFields)
}

// LoadCoefficients reads and validates a coefficient table file.
func LoadCoefficients(path string) (*Coefficients, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read coefficients file: %w", err)
	}
	return ParseCoefficients(data)
}

// ParseCoefficients parses a coefficient table with strict field
// validation. Every operator the model prices must be present.
func ParseCoefficients(data []byte) (*Coefficients, error) {
	c := &Coefficients{NetworkRate: DefaultNetworkRate}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil {
		return nil, &ConfigError{Message: "failed to parse YAML", Err: err}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

var loadDefault = sync.OnceValues(func() (*Coefficients, error) {
	return ParseCoefficients(defaultCoefficientsYAML)
})

// DefaultCoefficients returns the built-in table. Callers must not modify
// it.
func DefaultCoefficients() *Coefficients {
	c, err := loadDefault()
	if err != nil {
		panic("cost: embedded coefficients are invalid: " + err.Error())
	}
	return c
}

// Validate checks that every operator the model prices has coefficients
// and that all values are finite.
func (c *Coefficients) Validate() error {
	if c.NetworkRate < 0 || math.IsNaN(c.NetworkRate) || math.IsInf(c.NetworkRate, 0) {
		return &ConfigError{Field: "network_rate", Message: "must be a finite non-negative number"}
	}
	for _, op := range latencyOps {
		side, ok := c.Latency[op]
		if !ok {
			return &ConfigError{Field: "latency." + op, Message: "missing latency coefficients"}
		}
		if err := checkFinite("latency."+op+".server", side.Server, latencyFields); err != nil {
			return err
		}
		if err := checkFinite("latency."+op+".client", side.Client, latencyFields); err != nil {
			return err
		}
	}
	for _, op := range memoryOps {
		m, ok := c.Memory[op]
		if !ok {
			return &ConfigError{Field: "memory." + op, Message: "missing memory coefficients"}
		}
		if err := checkFinite("memory."+op, m, memoryFields); err != nil {
			return err
		}
	}
	return nil
}

func checkFinite[T any](where string, c T, fields []field[T]) error {
	for _, f := range fields {
		v := *f.ptr(&c)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ConfigError{Field: where + "." + f.key, Message: "must be finite"}
		}
	}
	return nil
}

// latency returns the coefficients of op on the given side.
func (c *Coefficients) latency(op string, atServer bool) LatencyCoefficients {
	side := c.Latency[op]
	if atServer {
		return side.Server
	}
	return side.Client
}

// shape is the feature vector of one operator evaluation.
type shape struct {
	inRows, outRows     float64
	inCols, inStrCols   float64
	outCols, outStrCols float64
}

// eval returns max(1, bias + sum of coefficient x feature).
func (c LatencyCoefficients) eval(s shape) float64 {
	v := s.inRows*c.InputNumRows +
		s.inCols*c.InputNumCols +
		s.inStrCols*c.InputNumStringCols +
		s.inRows*s.inCols*c.InputSize +
		s.inRows*s.inStrCols*c.InputStringSize +
		s.outRows*c.OutputNumRows +
		s.outCols*c.OutputNumCols +
		s.outStrCols*c.OutputNumStringCols +
		s.outRows*s.outCols*c.OutputSize +
		s.outRows*s.outStrCols*c.OutputStringSize +
		c.Bias
	return math.Max(1, v)
}

// eval returns the modeled size in bytes of rows x (cols, strCols).
func (c MemoryCoefficients) eval(rows, cols, strCols float64) float64 {
	v := rows*c.OutputNumRows +
		cols*c.OutputNumCols +
		strCols*c.OutputNumStringCols +
		rows*cols*c.OutputSize +
		rows*strCols*c.OutputStringSize +
		c.Bias
	return math.Max(1, v)
}
