// Package compose reads the parts of a Docker Compose file stackctl acts on:
// services, external networks, Traefik router labels and the variables the
// file interpolates.
package compose

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileNames are tried in order by Find, matching docker compose's own lookup.
var FileNames = []string{
	"docker-compose.yml",
	"docker-compose.yaml",
	"compose.yml",
	"compose.yaml",
}

var ErrComposeNotFound = errors.New("compose file not found")

// File is a parsed compose file.
type File struct {
	Path     string
	Name     string              `yaml:"name"`
	Services map[string]Service  `yaml:"services"`
	Networks map[string]*Network `yaml:"networks"`

	raw []byte
}

// Service is the subset of a compose service definition stackctl reads.
type Service struct {
	Image         string       `yaml:"image"`
	ContainerName string       `yaml:"container_name"`
	DependsOn     StringSet    `yaml:"depends_on"`
	Healthcheck   *Healthcheck `yaml:"healthcheck"`
	Labels        Labels       `yaml:"labels"`
	Networks      StringSet    `yaml:"networks"`
	Profiles      []string     `yaml:"profiles"`
}

// Healthcheck is a service healthcheck block.
type Healthcheck struct {
	Test    StringSet `yaml:"test"`
	Disable bool      `yaml:"disable"`
}

// Network is a top-level network definition.
type Network struct {
	External bool   `yaml:"external"`
	Name     string `yaml:"name"`
	Driver   string `yaml:"driver"`
}

// Labels accepts both the map and the "key=value" list form.
type Labels map[string]string

func (l *Labels) UnmarshalYAML(value *yaml.Node) error {
	out := Labels{}
	switch value.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(value.Content); i += 2 {
			out[value.Content[i].Value] = value.Content[i+1].Value
		}
	case yaml.SequenceNode:
		for _, item := range value.Content {
			k, v, _ := strings.Cut(item.Value, "=")
			out[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	case yaml.ScalarNode:
		if value.Tag != "!!null" {
			return fmt.Errorf("line %d: labels must be a map or a list", value.Line)
		}
	default:
		return fmt.Errorf("line %d: labels must be a map or a list", value.Line)
	}
	*l = out
	return nil
}

// StringSet accepts a list of strings, a single string, or a map whose keys are taken.
type StringSet []string

func (s *StringSet) UnmarshalYAML(value *yaml.Node) error {
	var out []string
	switch value.Kind {
	case yaml.SequenceNode:
		for _, item := range value.Content {
			out = append(out, item.Value)
		}
	case yaml.MappingNode:
		for i := 0; i < len(value.Content); i += 2 {
			out = append(out, value.Content[i].Value)
		}
	case yaml.ScalarNode:
		if value.Tag != "!!null" && value.Value != "" {
			out = append(out, value.Value)
		}
	}
	*s = out
	return nil
}

// Find returns the compose file in dir.
func Find(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrComposeNotFound, dir)
}

// Exists reports whether dir holds a compose file.
func Exists(dir string) bool {
	_, err := Find(dir)
	return err == nil
}

// Load parses the compose file at path, or the one found in path when it is a directory.
func Load(p string) (*File, error) {
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		found, err := Find(p)
		if err != nil {
			return nil, err
		}
		p = found
	}

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrComposeNotFound, p)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}
	f.Path = p
	return f, nil
}

// Parse decodes compose YAML.
func Parse(data []byte) (*File, error) {
	f := &File{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	if len(f.Services) == 0 {
		return nil, fmt.Errorf("no services defined")
	}
	f.raw = data
	return f, nil
}

// Dir is the project directory of the file.
func (f *File) Dir() string {
	return filepath.Dir(f.Path)
}

// ServiceNames returns the service names sorted.
func (f *File) ServiceNames() []string {
	names := make([]string, 0, len(f.Services))
	for name := range f.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasHealthcheck reports whether the service declares an enabled healthcheck.
func (f *File) HasHealthcheck(service string) bool {
	svc, ok := f.Services[service]
	if !ok || svc.Healthcheck == nil || svc.Healthcheck.Disable {
		return false
	}
	return len(svc.Healthcheck.Test) == 0 || !strings.EqualFold(svc.Healthcheck.Test[0], "NONE")
}

// ExternalNetworks returns the docker names of networks marked external, sorted.
func (f *File) ExternalNetworks() []string {
	var names []string
	for key, n := range f.Networks {
		if n == nil || !n.External {
			continue
		}
		name := key
		if n.Name != "" {
			name = n.Name
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// imageName returns the repository name of an image without registry, tag or digest.
func imageName(image string) string {
	name := image
	if i := strings.Index(name, "@"); i >= 0 {
		name = name[:i]
	}
	name = path.Base(name)
	if i := strings.Index(name, ":"); i >= 0 {
		name = name[:i]
	}
	return strings.ToLower(name)
}

// IsTraefik reports whether any service runs the Traefik image.
func (f *File) IsTraefik() bool {
	return f.TraefikService() != ""
}

// TraefikService returns the name of the service running Traefik, if any.
func (f *File) TraefikService() string {
	for _, name := range f.ServiceNames() {
		if imageName(f.Services[name].Image) == "traefik" {
			return name
		}
	}
	return ""
}

var databaseImages = []string{"postgres", "postgis", "timescaledb", "timescaledb-ha"}

// DatabaseService returns the first service (by name) running a PostgreSQL image.
func (f *File) DatabaseService() string {
	for _, name := range f.ServiceNames() {
		img := imageName(f.Services[name].Image)
		for _, candidate := range databaseImages {
			if img == candidate {
				return name
			}
		}
	}
	return ""
}
