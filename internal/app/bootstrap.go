package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/graphscript/evalserver/internal/adapter/repo/postgres"
)

// graphBootstrapYAML is the shape of the optional bootstrap file: a list of
// alias -> graph name pairs to seed the registry with on startup, so a
// fresh deployment has the conventional `graph`/`g` aliases available
// without a manual registration call.
type graphBootstrapYAML struct {
	Aliases []graphAliasEntry `yaml:"aliases"`
}

type graphAliasEntry struct {
	Alias     string `yaml:"alias"`
	GraphName string `yaml:"graphName"`
}

// BootstrapGraphAliases reads path and registers every alias it lists
// against manager. A missing or empty file is not an error; a malformed
// one is.
func BootstrapGraphAliases(ctx context.Context, manager *postgres.GraphAliasManager, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read graph bootstrap file: %w", err)
	}

	var doc graphBootstrapYAML
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("parse graph bootstrap file: %w", err)
	}

	for _, entry := range doc.Aliases {
		if entry.Alias == "" || entry.GraphName == "" {
			continue
		}
		if err := manager.RegisterAlias(ctx, entry.Alias, entry.GraphName); err != nil {
			return fmt.Errorf("register alias %q: %w", entry.Alias, err)
		}
	}
	return nil
}
