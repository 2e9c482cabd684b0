package poolfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Read loads and validates a poolfile.
func Read(file string) (Poolfile, error) {
	buf, err := os.ReadFile(file)
	if err != nil {
		return Poolfile{}, fmt.Errorf("read file: %w", err)
	}

	var poolfile Poolfile
	if err = yaml.Unmarshal(buf, &poolfile); err != nil {
		return Poolfile{}, fmt.Errorf("unmarshal: %w", err)
	}
	if poolfile.Version == "" {
		poolfile.Version = PoolfileVersion
	}
	if err = poolfile.Validate(); err != nil {
		return Poolfile{}, fmt.Errorf("validate: %w", err)
	}
	return poolfile, nil
}
