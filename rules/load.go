package rules

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON array of DomainRule from disk. The file replaces
// the built-in table wholesale so operators can pin exactly the rules
// they have verified.
func LoadFile(path string) ([]DomainRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules: read %s: %w", path, err)
	}
	var list []DomainRule
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("rules: parse %s: %w", path, err)
	}
	for i := range list {
		if list[i].HostPattern == "" {
			return nil, fmt.Errorf("rules: entry %d has no host_pattern", i)
		}
	}
	return list, nil
}
