package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	Printers []DeviceCreate `yaml:"printers"`
}

// LoadSeedFile reads a YAML list of printers:
//
//	printers:
//	  - name: Voron 2.4
//	    address: voron.local
func LoadSeedFile(path string) ([]DeviceCreate, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return f.Printers, nil
}
