package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"topup-go/rcon"
)

// ServerEntry is one server in servers.yaml. Enabled defaults to true.
type ServerEntry struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
	Enabled     *bool  `yaml:"enabled"`
}

type serversDocument struct {
	Servers map[string]ServerEntry `yaml:"servers"`
}

// ServerFile is the servers.yaml registry on disk.
type ServerFile struct {
	Path string
}

// Source re-reads the file on every call, so a manager Reload picks up edits.
func (f ServerFile) Source() rcon.EndpointSource {
	return func() (map[string]rcon.RawEndpoint, error) {
		return LoadServers(f.Path)
	}
}

// LoadServers reads and parses a servers file.
func LoadServers(path string) (map[string]rcon.RawEndpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read servers file: %w", err)
	}
	return ParseServers(data)
}

// ParseServers decodes servers YAML. Passwords may reference environment
// variables as ${NAME}. Incomplete entries are passed through; the manager
// decides what is usable.
func ParseServers(data []byte) (map[string]rcon.RawEndpoint, error) {
	var doc serversDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse servers file: %w", err)
	}

	endpoints := make(map[string]rcon.RawEndpoint, len(doc.Servers))
	for key, entry := range doc.Servers {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		endpoints[key] = rcon.RawEndpoint{
			Host:        entry.Host,
			Port:        entry.Port,
			Password:    os.ExpandEnv(entry.Password),
			DisplayName: entry.DisplayName,
			Enabled:     enabled,
		}
	}
	return endpoints, nil
}
