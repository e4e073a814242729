package dedicated

import (
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
)

// ConnectionConfig holds the dial parameters of one database connection.
// It is a value type; use Clone before mutating Options of a shared copy.
type ConnectionConfig struct {
	Driver        string            `yaml:"driver"`
	Host          string            `yaml:"host"`
	Port          int               `yaml:"port"`
	DBName        string            `yaml:"dbname"`
	User          string            `yaml:"user"`
	Password      string            `yaml:"password"`
	Charset       string            `yaml:"charset"`
	ServerVersion string            `yaml:"server_version"`
	Options       map[string]string `yaml:"options,omitempty"`
}

// Param is a single named connection parameter.
type Param struct {
	Name  string
	Value string
}

// Clone returns a copy of c that shares no mutable state with it.
func (c ConnectionConfig) Clone() ConnectionConfig {
	out := c
	out.Options = maps.Clone(c.Options)
	return out
}

// Params returns the recognised parameters in canonical order followed by
// Options sorted by name. Empty values are omitted.
func (c ConnectionConfig) Params() []Param {
	params := make([]Param, 0, len(envSuffixes)+len(c.Options))
	for _, m := range envSuffixes {
		if v := m.get(&c); v != "" {
			params = append(params, Param{Name: m.param, Value: v})
		}
	}
	for _, k := range slices.Sorted(maps.Keys(c.Options)) {
		params = append(params, Param{Name: k, Value: c.Options[k]})
	}
	return params
}

// Environment is a read-only view of process environment variables.
type Environment interface {
	LookupEnv(key string) (string, bool)
}

// OSEnvironment reads variables from the process environment.
type OSEnvironment struct{}

func (OSEnvironment) LookupEnv(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnvironment is an Environment backed by a map.
type MapEnvironment map[string]string

func (m MapEnvironment) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

type envMapping struct {
	param  string
	suffix string
	get    func(*ConnectionConfig) string
	set    func(*ConnectionConfig, string)
}

// envSuffixes is ordered: host, port, dbname, user, password, driver,
// charset, server_version.
var envSuffixes = []envMapping{
	{"host", "HOST", func(c *ConnectionConfig) string { return c.Host }, func(c *ConnectionConfig, v string) { c.Host = v }},
	{"port", "PORT", func(c *ConnectionConfig) string {
		if c.Port == 0 {
			return ""
		}
		return strconv.Itoa(c.Port)
	}, nil},
	{"dbname", "NAME", func(c *ConnectionConfig) string { return c.DBName }, func(c *ConnectionConfig, v string) { c.DBName = v }},
	{"user", "USER", func(c *ConnectionConfig) string { return c.User }, func(c *ConnectionConfig, v string) { c.User = v }},
	{"password", "PASSWORD", func(c *ConnectionConfig) string { return c.Password }, func(c *ConnectionConfig, v string) { c.Password = v }},
	{"driver", "DRIVER", func(c *ConnectionConfig) string { return c.Driver }, func(c *ConnectionConfig, v string) { c.Driver = v }},
	{"charset", "CHARSET", func(c *ConnectionConfig) string { return c.Charset }, func(c *ConnectionConfig, v string) { c.Charset = v }},
	{"server_version", "SERVER_VERSION", func(c *ConnectionConfig) string { return c.ServerVersion }, func(c *ConnectionConfig, v string) { c.ServerVersion = v }},
}

// EnvVariable returns the name of the variable overriding suffix for channel,
// e.g. EnvVariable("reports", "HOST") is "REPORTS_DB_HOST".
func EnvVariable(channel, suffix string) string {
	return strings.ToUpper(channel) + "_DB_" + suffix
}

// ApplyEnvironment overrides fields of a copy of cfg with the
// <PREFIX>_DB_<SUFFIX> variables found in env. It reports whether the
// database name was overridden.
func ApplyEnvironment(prefix string, cfg ConnectionConfig, env Environment) (ConnectionConfig, bool, error) {
	if env == nil {
		env = OSEnvironment{}
	}
	out := cfg.Clone()
	nameOverridden := false
	for _, m := range envSuffixes {
		name := EnvVariable(prefix, m.suffix)
		v, ok := env.LookupEnv(name)
		if !ok {
			continue
		}
		if m.suffix == "PORT" {
			port, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return ConnectionConfig{}, false, &InvalidPortError{Variable: name, Value: v, Err: err}
			}
			out.Port = port
			continue
		}
		if m.suffix == "NAME" {
			nameOverridden = true
		}
		m.set(&out, v)
	}
	return out, nameOverridden, nil
}

// DeriveConfig builds the configuration of channel from base and the
// channel's environment overrides. Without a NAME override a non-empty base
// database name gets the "_<channel>" suffix.
func DeriveConfig(channel string, base ConnectionConfig, env Environment) (ConnectionConfig, error) {
	cfg, nameOverridden, err := ApplyEnvironment(channel, base, env)
	if err != nil {
		return ConnectionConfig{}, err
	}
	if !nameOverridden && cfg.DBName != "" {
		cfg.DBName = cfg.DBName + "_" + channel
	}
	return cfg, nil
}
