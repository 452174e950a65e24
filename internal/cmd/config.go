package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	toml "github.com/pelletier/go-toml"
	yaml "gopkg.in/yaml.v3"

	"github.com/ardnew/usbhcd/internal/configpaths"
	"github.com/ardnew/usbhcd/pkg"
)

// ConfigCommand groups config-related subcommands.
type ConfigCommand struct {
	Init ConfigInit `cmd:"" help:"Generate a configuration template for the run command"`
}

// ConfigInit scaffolds a configuration file holding the defaults of every
// run and log flag.
type ConfigInit struct {
	Format string `help:"Output format" enum:"json,yaml,toml" default:"json"`
	Output string `help:"Destination file path (defaults to hcsim.<format> in the current directory)" type:"path"`
	Force  bool   `help:"Overwrite if the file already exists"`
}

// Run writes the template.
func (c *ConfigInit) Run(logger *slog.Logger) error {
	data, err := Template(c.Format)
	if err != nil {
		return err
	}

	dest := c.Output
	if dest == "" {
		dest = configpaths.Name + "." + configpaths.Ext(normalizeFormat(c.Format))
	}
	if !c.Force {
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%w: %s exists; use --force to overwrite", pkg.ErrBusy, dest)
		}
	}
	if err := configpaths.EnsureDir(dest); err != nil {
		return err
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return err
	}
	logger.Info("configuration template written", "path", dest, "format", c.Format)
	return nil
}

// Template renders the run and log flag defaults in the given format. Keys
// follow the lookup rules of the matching configuration loader: JSON keys
// use underscores, YAML and TOML keys keep the flag's hyphens. Log flags
// are nested under "log".
func Template(format string) ([]byte, error) {
	kind := normalizeFormat(format)
	if kind == "" {
		return nil, fmt.Errorf("%w: format %q", pkg.ErrInvalidParameter, format)
	}
	sep := "-"
	if kind == "json" {
		sep = "_"
	}

	root := buildMapFromStruct(reflect.TypeOf(RunCommand{}), sep)
	root["log"] = buildMapFromStruct(reflect.TypeOf(LogConfig{}), sep)

	switch kind {
	case "json":
		return json.MarshalIndent(root, "", "  ")
	case "yaml":
		return yaml.Marshal(root)
	default:
		tree, err := toml.TreeFromMap(root)
		if err != nil {
			return nil, err
		}
		return tree.Marshal()
	}
}

func normalizeFormat(f string) string {
	switch strings.ToLower(f) {
	case "json":
		return "json"
	case "yaml", "yml":
		return "yaml"
	case "toml":
		return "toml"
	default:
		return ""
	}
}

// flagKey derives the configuration key of a flag field the way kong
// derives the flag name, with hyphens replaced by sep.
func flagKey(f reflect.StructField, sep string) string {
	name := f.Tag.Get("name")
	if name == "" {
		var b strings.Builder
		r := []rune(f.Name)
		for i, c := range r {
			if i > 0 && unicode.IsUpper(c) &&
				(unicode.IsLower(r[i-1]) || (i+1 < len(r) && unicode.IsLower(r[i+1]))) {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(c))
		}
		name = b.String()
	}
	return strings.ReplaceAll(name, "-", sep)
}

func buildMapFromStruct(t reflect.Type, sep string) map[string]any {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	out := map[string]any{}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("kong") == "-" {
			continue
		}
		if _, ok := f.Tag.Lookup("cmd"); ok {
			continue
		}
		if _, ok := f.Tag.Lookup("embed"); ok {
			sub := buildMapFromStruct(f.Type, sep)
			if name := strings.TrimSuffix(f.Tag.Get("prefix"), "."); name != "" {
				out[name] = sub
			} else {
				for k, v := range sub {
					out[k] = v
				}
			}
			continue
		}
		if val := defaultValueForField(f.Type, f.Tag.Get("default")); val != nil {
			out[flagKey(f, sep)] = val
		}
	}
	return out
}

func defaultValueForField(t reflect.Type, def string) any {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.PkgPath() == "time" && t.Name() == "Duration" {
		if def != "" {
			return def
		}
		return "0s"
	}
	switch t.Kind() {
	case reflect.String:
		return def
	case reflect.Bool:
		b, _ := strconv.ParseBool(def)
		return b
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, _ := strconv.ParseInt(def, 10, 64)
		return n
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, _ := strconv.ParseUint(def, 10, 64)
		return n
	case reflect.Float32, reflect.Float64:
		f, _ := strconv.ParseFloat(def, 64)
		return f
	default:
		return nil
	}
}
