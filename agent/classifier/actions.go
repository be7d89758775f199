package classifier

import (
	"fmt"
	"slices"

	"github.com/BaSui01/autoheal/types"
)

// ActionTable maps each error kind to its default recovery actions, most
// promising first. Tables are treated as immutable once handed to a Classifier.
type ActionTable map[types.ErrorKind][]types.RecoveryAction

// DefaultActionTable returns a fresh copy of the built-in table.
func DefaultActionTable() ActionTable {
	return ActionTable{
		types.KindUnknown: nil,
		types.KindTransient: {
			types.ActionWaitAndRetry,
			types.ActionWaitForStability,
			types.ActionPageRefresh,
		},
		types.KindSelectorNotFound: {
			types.ActionAlternativeSelector,
			types.ActionWaitForStability,
			types.ActionPageRefresh,
		},
		types.KindNavigationTimeout: {
			types.ActionNavigationRetry,
			types.ActionPageRefresh,
			types.ActionClearCache,
		},
		types.KindJavaScriptError: {
			types.ActionWaitForStability,
			types.ActionPageRefresh,
			types.ActionNavigationRetry,
		},
		types.KindPermissionDenied: {
			types.ActionClearCookies,
			types.ActionPageRefresh,
		},
		types.KindNetworkError: {
			types.ActionWaitAndRetry,
			types.ActionNavigationRetry,
			types.ActionClearCache,
		},
		types.KindPageCrash: {
			types.ActionPageRefresh,
			types.ActionRestartContext,
		},
		types.KindElementNotInteractable: {
			types.ActionWaitForStability,
			types.ActionAlternativeSelector,
			types.ActionWaitAndRetry,
		},
		types.KindTimingIssue: {
			types.ActionWaitForStability,
			types.ActionAlternativeSelector,
			types.ActionWaitAndRetry,
		},
	}
}

// Actions returns a copy of the defaults for kind.
func (t ActionTable) Actions(kind types.ErrorKind) []types.RecoveryAction {
	return slices.Clone(t[kind])
}

// Clone deep-copies the table.
func (t ActionTable) Clone() ActionTable {
	out := make(ActionTable, len(t))
	for k, v := range t {
		out[k] = slices.Clone(v)
	}
	return out
}

// Referenced returns every action the table mentions, deduplicated, in
// kind order.
func (t ActionTable) Referenced() []types.RecoveryAction {
	var out []types.RecoveryAction
	for _, kind := range types.AllErrorKinds() {
		for _, a := range t[kind] {
			if !slices.Contains(out, a) {
				out = append(out, a)
			}
		}
	}
	return out
}

// Validate checks that every action name is known and no kind lists an
// action twice.
func (t ActionTable) Validate() error {
	for kind, actions := range t {
		seen := make(map[types.RecoveryAction]bool, len(actions))
		for _, a := range actions {
			if _, err := types.ParseRecoveryAction(string(a)); err != nil {
				return fmt.Errorf("kind %s: %w", kind, err)
			}
			if seen[a] {
				return fmt.Errorf("kind %s lists %s twice", kind, a)
			}
			seen[a] = true
		}
	}
	return nil
}
