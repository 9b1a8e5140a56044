package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scrypster/esmcp/pkg/types"
)

// hostsFile is the YAML layout of ESMCP_HOSTS_FILE:
//
//	hosts:
//	  PRIMARY:
//	    name: UTH_ES_Primary
//	    url: http://es-primary:9200
//	    timeout: 30s
//	    data_source_id: 3
type hostsFile struct {
	Hosts map[string]hostEntry `yaml:"hosts"`
}

type hostEntry struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
	Timeout      string `yaml:"timeout"`
	DataSourceID int    `yaml:"data_source_id"`
}

// LoadHostsFile merges the tier host map from a YAML file into c.
// Fields left empty in the file keep their current values.
func (c *Config) LoadHostsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: failed to read hosts file %s: %w", path, err)
	}
	return c.mergeHosts(data)
}

func (c *Config) mergeHosts(data []byte) error {
	var file hostsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("config: failed to parse hosts file: %w", err)
	}

	if c.Elasticsearch.Hosts == nil {
		c.Elasticsearch.Hosts = make(map[types.HostType]HostConfig)
	}

	for name, entry := range file.Hosts {
		tier, err := types.ParseHostType(name)
		if err != nil {
			return fmt.Errorf("config: hosts file: %w", err)
		}

		hc := c.Elasticsearch.Hosts[tier]
		if entry.Name != "" {
			hc.Name = entry.Name
		}
		if entry.URL != "" {
			hc.URL = entry.URL
		}
		if entry.Username != "" {
			hc.Username = entry.Username
		}
		if entry.Password != "" {
			hc.Password = entry.Password
		}
		if entry.Timeout != "" {
			d, err := time.ParseDuration(entry.Timeout)
			if err != nil {
				return fmt.Errorf("config: hosts file: invalid timeout for %s: %w", tier, err)
			}
			hc.Timeout = d
		}
		if entry.DataSourceID != 0 {
			hc.DataSourceID = entry.DataSourceID
		}
		c.Elasticsearch.Hosts[tier] = hc
	}
	return nil
}
