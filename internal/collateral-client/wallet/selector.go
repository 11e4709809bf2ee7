package wallet

import (
	"context"

	"github.com/quantumauth-io/collateral-client/internal/collateral-client/helpers"
)

// Selector lets the user pick a provider by name.
type Selector interface {
	Select(ctx context.Context, names []string) (string, error)
}

type SelectorFunc func(ctx context.Context, names []string) (string, error)

func (f SelectorFunc) Select(ctx context.Context, names []string) (string, error) {
	return f(ctx, names)
}

// TerminalSelector prompts on stdin. Without a terminal every selection is
// treated as cancelled.
type TerminalSelector struct{}

func (TerminalSelector) Select(ctx context.Context, names []string) (string, error) {
	if len(names) == 0 || !helpers.IsInteractive() {
		return "", ErrSelectionCancelled
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	choice, ok := helpers.PromptChoice("Select a wallet", names)
	if !ok {
		return "", ErrSelectionCancelled
	}
	return choice, nil
}

// Fixed always picks name, or cancels when name is empty.
func Fixed(name string) Selector {
	return SelectorFunc(func(ctx context.Context, names []string) (string, error) {
		if name == "" {
			return "", ErrSelectionCancelled
		}
		return name, nil
	})
}
