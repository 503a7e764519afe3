package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	pkgsync "github.com/stacklok/fleet-feed-connector/internal/sync"
)

// decode parses a YAML document and applies environment overrides. Every
// scalar key can be overridden by FLEETSYNC_<PATH> with dots replaced by
// underscores, e.g. FLEETSYNC_UPSTREAM_SERVER or
// FLEETSYNC_SYNCHRONIZERS_TRIPS_ENABLED.
func decode(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if err := unknownKeys(data); err != nil {
		slog.Warn("Configuration contains unrecognized keys", "error", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range envKeys(reflect.TypeOf(Config{}), "", synchronizerNames(v)) {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
	}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// synchronizerNames returns the built-in synchronizers plus any named in the file
func synchronizerNames(v *viper.Viper) []string {
	names := make([]string, 0, len(pkgsync.AllServices()))
	seen := map[string]bool{}
	for _, id := range pkgsync.AllServices() {
		names = append(names, id.String())
		seen[id.String()] = true
	}
	for name := range v.GetStringMap("synchronizers") {
		if !seen[name] {
			names = append(names, name)
		}
	}
	return names
}

// envKeys lists the dotted yaml paths of every scalar field under t. Map
// fields are expanded with mapKeys; slices cannot be addressed from the
// environment and are skipped.
func envKeys(t reflect.Type, prefix string, mapKeys []string) []string {
	var keys []string
	for i := range t.NumField() {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" || !f.IsExported() {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}

		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		switch ft.Kind() {
		case reflect.Struct:
			keys = append(keys, envKeys(ft, path, mapKeys)...)
		case reflect.Map:
			elem := ft.Elem()
			if elem.Kind() != reflect.Struct {
				continue
			}
			for _, k := range mapKeys {
				keys = append(keys, envKeys(elem, path+"."+k, mapKeys)...)
			}
		case reflect.Slice, reflect.Array:
		default:
			keys = append(keys, path)
		}
	}
	return keys
}

// unknownKeys reports keys that do not map onto Config, usually misspellings
// that would otherwise be ignored silently
func unknownKeys(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
