package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"ggcore.ai/internal/protocol"
)

type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
	FormatJSON Format = "json"
)

// FormatFor picks the document format from a file extension.
func FormatFor(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".toml":
		return FormatTOML, true
	case ".json":
		return FormatJSON, true
	}
	return "", false
}

func Load(path string) (GGConfig, error) {
	format, ok := FormatFor(path)
	if !ok {
		return GGConfig{}, &ConfigError{Msg: fmt.Sprintf("unsupported config extension %q", filepath.Ext(path))}
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return GGConfig{}, err
	}
	cfg, err := ParseConfig(b, format)
	if err != nil {
		return GGConfig{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}

// ParseConfig decodes and validates a configuration document. It never returns a
// partially valid config: on failure the error lists every problem found.
func ParseConfig(raw []byte, format Format) (GGConfig, error) {
	doc, err := decodeDocument(raw, format)
	if err != nil {
		return GGConfig{}, err
	}
	canon, err := json.Marshal(doc)
	if err != nil {
		return GGConfig{}, &ConfigError{Msg: fmt.Sprintf("document is not representable as JSON: %v", err)}
	}

	var generic any
	if err := json.Unmarshal(canon, &generic); err != nil {
		return GGConfig{}, &ConfigError{Msg: err.Error()}
	}
	if err := checkSchema(generic); err != nil {
		return GGConfig{}, err
	}

	cfg, err := decodeTyped(canon)
	if err != nil {
		return GGConfig{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return GGConfig{}, err
	}
	return cfg, nil
}

func decodeDocument(raw []byte, format Format) (any, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ConfigError{Msg: "empty document"}
	}
	var doc any
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, &ConfigError{Msg: "yaml: " + err.Error()}
		}
	case FormatTOML:
		m := map[string]any{}
		if err := toml.Unmarshal(raw, &m); err != nil {
			return nil, &ConfigError{Msg: "toml: " + err.Error()}
		}
		doc = m
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&doc); err != nil {
			return nil, &ConfigError{Msg: "json: " + err.Error()}
		}
	default:
		return nil, &ConfigError{Msg: fmt.Sprintf("unknown format %q", format)}
	}
	if _, ok := doc.(map[string]any); !ok {
		return nil, &ConfigError{Msg: "document root must be a mapping"}
	}
	return doc, nil
}

func checkSchema(doc any) error {
	err := protocol.Validate(protocol.SchemaConfig, doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ConfigError{Msg: err.Error()}
	}
	var p problems
	seen := map[string]bool{}
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			path := pointerPath(v.InstanceLocation)
			key := path + "\x00" + v.Message
			if !seen[key] {
				seen[key] = true
				p.addf(path, "%s", v.Message)
			}
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(p.list, func(i, j int) bool {
		return p.list[i].(*ConfigError).Path < p.list[j].(*ConfigError).Path
	})
	return p.err()
}

// fileConfig mirrors GGConfig but keeps merge-able sections raw so that each
// entry can be decoded over its own defaults.
type fileConfig struct {
	World           *WorldConfig               `json:"world"`
	MaxSteps        *int                       `json:"max_steps"`
	Seed            *uint64                    `json:"seed"`
	EpisodeSeed     *uint64                    `json:"episode_seed"`
	ActionTimeoutMs *int                       `json:"action_timeout_ms"`
	EntityTypes     map[string]json.RawMessage `json:"entity_types"`
	Cameras         map[string]json.RawMessage `json:"cameras"`
	Agents          []json.RawMessage          `json:"agents"`
	Win             []WinCondition             `json:"win"`
}

func decodeTyped(canon []byte) (GGConfig, error) {
	var f fileConfig
	if err := json.Unmarshal(canon, &f); err != nil {
		return GGConfig{}, &ConfigError{Msg: err.Error()}
	}
	cfg := defaults()
	var p problems
	if f.World != nil {
		cfg.World = *f.World
	}
	if f.MaxSteps != nil {
		cfg.MaxSteps = *f.MaxSteps
	}
	cfg.Seed = f.Seed
	cfg.EpisodeSeed = f.EpisodeSeed
	if f.ActionTimeoutMs != nil {
		cfg.ActionTimeoutMs = *f.ActionTimeoutMs
	}
	for _, name := range sortedKeys(f.EntityTypes) {
		t, ok := cfg.EntityTypes[name]
		if !ok {
			t = defaultType()
		}
		if err := json.Unmarshal(f.EntityTypes[name], &t); err != nil {
			p.addf("entity_types."+name, "%v", err)
			continue
		}
		cfg.EntityTypes[name] = t
	}
	for _, name := range sortedKeys(f.Cameras) {
		c, ok := cfg.Cameras[name]
		if !ok {
			c = defaultCamera()
		}
		if err := json.Unmarshal(f.Cameras[name], &c); err != nil {
			p.addf("cameras."+name, "%v", err)
			continue
		}
		cfg.Cameras[name] = c
	}
	for i, raw := range f.Agents {
		a := defaultAgent()
		if err := json.Unmarshal(raw, &a); err != nil {
			p.addf(fmt.Sprintf("agents[%d]", i), "%v", err)
			continue
		}
		cfg.Agents = append(cfg.Agents, a)
	}
	cfg.Win = f.Win
	if !p.empty() {
		return GGConfig{}, p.err()
	}
	return cfg, nil
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
