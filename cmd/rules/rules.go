package rules

import (
	"context"
	"fmt"
	"io"

	logger "github.com/sirupsen/logrus"

	"newstrader/src/filter"
	"newstrader/src/model"
)

type Store interface {
	List(ctx context.Context) ([]model.FilterRule, error)
	ReplaceAll(ctx context.Context, rules []model.FilterRule) error
}

// Import replaces the stored rule set with the rules of a YAML file.
// An invalid file leaves the stored rules untouched.
func Import(ctx context.Context, store Store, r io.Reader) (int, error) {
	list, err := filter.LoadRulesYAML(r)
	if err != nil {
		return 0, fmt.Errorf("load rules: %w", err)
	}
	if err := store.ReplaceAll(ctx, list); err != nil {
		return 0, fmt.Errorf("save rules: %w", err)
	}
	logger.WithField("rules", len(list)).Info("filter rules imported")
	return len(list), nil
}

// Export writes the stored rules in import format.
func Export(ctx context.Context, store Store, w io.Writer) error {
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	return filter.WriteRulesYAML(w, list)
}
