// Package config provides an optional startup config file for saturnd.
//
// Its accessor shape (RequiredString/OptionalString/OptionalBool/Validate)
// generalizes the jsonconfig.Obj API that bradfitz-runsit's
// updateFromConfig reads from (danga.com/runsit/jsonconfig), rebuilt here
// over gopkg.in/yaml.v3 rather than JSON since YAML is what the other
// config-capable repos in this codebase's lineage use.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Obj is a loosely-typed configuration object with accessors that track
// which keys were consumed, so Validate can flag typos as unknown keys.
type Obj struct {
	raw     map[string]interface{}
	touched map[string]bool
}

// Load reads and parses a YAML config file into an Obj.
func Load(path string) (*Obj, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %q: %w", path, err)
	}
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}
	return &Obj{raw: raw, touched: map[string]bool{}}, nil
}

func (o *Obj) OptionalString(key, def string) string {
	o.touched[key] = true
	if v, ok := o.raw[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

func (o *Obj) RequiredString(key string) (string, error) {
	o.touched[key] = true
	v, ok := o.raw[key]
	if !ok {
		return "", fmt.Errorf("config: missing required key %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("config: key %q must be a string", key)
	}
	return s, nil
}

func (o *Obj) OptionalBool(key string, def bool) bool {
	o.touched[key] = true
	if v, ok := o.raw[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

func (o *Obj) OptionalInt(key string, def int) int {
	o.touched[key] = true
	if v, ok := o.raw[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		}
	}
	return def
}

// Validate reports an error naming any key present in the file that no
// accessor ever read, the same "unused key" check jsonconfig.Obj.Validate
// performs.
func (o *Obj) Validate() error {
	for k := range o.raw {
		if !o.touched[k] {
			return fmt.Errorf("config: unknown key %q", k)
		}
	}
	return nil
}

// Startup is the resolved set of daemon startup options. A zero-valued field
// means the option was not set on the CLI: Apply backfills it from the
// config file, and the caller applies its own defaults only afterwards, so
// CLI flags always take precedence over the config file's values.
type Startup struct {
	PipesDir      string
	TasksDir      string
	DebugHTTPAddr string
	LogRingBytes  int
}

// Apply backfills any zero-valued field of s from the config file, then
// validates no stray keys were left in the file.
func Apply(o *Obj, s *Startup) error {
	if s.PipesDir == "" {
		s.PipesDir = o.OptionalString("pipes_dir", "")
	} else {
		o.touched["pipes_dir"] = true
	}
	if s.TasksDir == "" {
		s.TasksDir = o.OptionalString("tasks_dir", "")
	} else {
		o.touched["tasks_dir"] = true
	}
	if s.DebugHTTPAddr == "" {
		s.DebugHTTPAddr = o.OptionalString("debug_http_addr", "")
	} else {
		o.touched["debug_http_addr"] = true
	}
	if s.LogRingBytes == 0 {
		s.LogRingBytes = o.OptionalInt("log_ring_bytes", 64<<10)
	} else {
		o.touched["log_ring_bytes"] = true
	}
	return o.Validate()
}
