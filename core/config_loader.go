package core

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

var durationKeys = map[string]struct{}{
	"check_delay":     {},
	"retry_delay":     {},
	"due_date_offset": {},
}

// FileConfigLoader reads a YAML document from Path.
type FileConfigLoader struct {
	Path string
}

func (l FileConfigLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("core: read config %s: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: decode config %s: %w", path, err)
	}
	return normalizeRawConfig(raw)
}

type StaticConfigLoader struct {
	Values map[string]any
}

func (l StaticConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return normalizeRawConfig(out)
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = StaticConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// GoOptionsResolver layers defaults, the loaded file and runtime overrides,
// in that order of precedence. Zero values in the upper layers do not
// override lower ones.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer, err := configToLayerMap(defaults, true)
	if err != nil {
		return Config{}, err
	}
	loadedLayer, err := configToLayerMap(loaded, false)
	if err != nil {
		return Config{}, err
	}
	runtimeLayer, err := configToLayerMap(runtime, false)
	if err != nil {
		return Config{}, err
	}

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return resolved.Normalized(), nil
}

// LoadConfig reads path (optional) and applies runtime overrides on top.
func LoadConfig(ctx context.Context, path string, runtime Config) (Config, error) {
	defaults := DefaultConfig()
	loaded, err := NewCfgxConfigProvider(FileConfigLoader{Path: path}).Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return GoOptionsResolver{}.Resolve(defaults, loaded, runtime)
}

func configToLayerMap(cfg Config, includeZero bool) (map[string]any, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("core: encode config layer: %w", err)
	}
	layer := map[string]any{}
	if err := yaml.Unmarshal(data, &layer); err != nil {
		return nil, fmt.Errorf("core: decode config layer: %w", err)
	}
	if !includeZero {
		pruneZeroValues(layer)
	}
	return normalizeRawConfig(layer)
}

// normalizeRawConfig turns duration strings ("30s") or integer seconds into
// time.Duration and seeds per-mailbox flags that default to true.
func normalizeRawConfig(raw map[string]any) (map[string]any, error) {
	if err := normalizeDurations(raw); err != nil {
		return nil, err
	}
	mailboxes, ok := raw["mailboxes"].([]any)
	if !ok {
		return raw, nil
	}
	for _, item := range mailboxes {
		mailbox, ok := item.(map[string]any)
		if !ok {
			continue
		}
		processing, ok := mailbox["processing"].(map[string]any)
		if !ok {
			processing = map[string]any{}
			mailbox["processing"] = processing
		}
		if _, set := processing["enabled"]; !set {
			processing["enabled"] = true
		}
		if _, set := processing["unread_only"]; !set {
			processing["unread_only"] = true
		}
	}
	return raw, nil
}

func normalizeDurations(node any) error {
	switch value := node.(type) {
	case map[string]any:
		for key, child := range value {
			if _, ok := durationKeys[key]; ok {
				parsed, err := parseDurationValue(key, child)
				if err != nil {
					return err
				}
				value[key] = parsed
				continue
			}
			if err := normalizeDurations(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range value {
			if err := normalizeDurations(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseDurationValue(key string, value any) (time.Duration, error) {
	switch typed := value.(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return typed, nil
	case int:
		return time.Duration(typed) * time.Second, nil
	case int64:
		return time.Duration(typed) * time.Second, nil
	case float64:
		return time.Duration(typed * float64(time.Second)), nil
	case string:
		typed = strings.TrimSpace(typed)
		if typed == "" {
			return 0, nil
		}
		parsed, err := time.ParseDuration(typed)
		if err != nil {
			return 0, fmt.Errorf("core: %s %q is not a duration: %w", key, typed, err)
		}
		return parsed, nil
	default:
		return 0, fmt.Errorf("core: %s has unsupported type %T", key, value)
	}
}

func pruneZeroValues(node map[string]any) {
	for key, value := range node {
		switch typed := value.(type) {
		case map[string]any:
			pruneZeroValues(typed)
			if len(typed) == 0 {
				delete(node, key)
			}
		case []any:
			if len(typed) == 0 {
				delete(node, key)
			}
		case nil:
			delete(node, key)
		default:
			if reflect.ValueOf(value).IsZero() {
				delete(node, key)
			}
		}
	}
}
