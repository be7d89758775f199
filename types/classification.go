package types

import (
	"fmt"
	"strings"
)

// RecoverableConfidence is the minimum confidence for a classification to drive recovery.
const RecoverableConfidence = 0.7

// ErrorKind is the category assigned to a failed invocation.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindTransient
	KindSelectorNotFound
	KindNavigationTimeout
	KindJavaScriptError
	KindPermissionDenied
	KindNetworkError
	KindPageCrash
	KindElementNotInteractable
	KindTimingIssue
)

var errorKindNames = [...]string{
	KindUnknown:                "Unknown",
	KindTransient:              "Transient",
	KindSelectorNotFound:       "SelectorNotFound",
	KindNavigationTimeout:      "NavigationTimeout",
	KindJavaScriptError:        "JavaScriptError",
	KindPermissionDenied:       "PermissionDenied",
	KindNetworkError:           "NetworkError",
	KindPageCrash:              "PageCrash",
	KindElementNotInteractable: "ElementNotInteractable",
	KindTimingIssue:            "TimingIssue",
}

// AllErrorKinds lists every kind in declaration order.
func AllErrorKinds() []ErrorKind {
	kinds := make([]ErrorKind, len(errorKindNames))
	for i := range errorKindNames {
		kinds[i] = ErrorKind(i)
	}
	return kinds
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(errorKindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return errorKindNames[k]
}

// MarshalText implements encoding.TextMarshaler.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ErrorKind) UnmarshalText(text []byte) error {
	parsed, err := ParseErrorKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseErrorKind resolves a kind by its name, case-insensitively.
func ParseErrorKind(name string) (ErrorKind, error) {
	for i, n := range errorKindNames {
		if strings.EqualFold(n, name) {
			return ErrorKind(i), nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown error kind %q", name)
}

// ErrorClassification is derived synchronously from a failure.
type ErrorClassification struct {
	Kind             ErrorKind        `json:"kind"`
	Confidence       float64          `json:"confidence"`
	Message          string           `json:"message"`
	SuggestedActions []RecoveryAction `json:"suggested_actions,omitempty"`
	// Rule names the heuristic that produced the classification.
	Rule string `json:"rule,omitempty"`
}

// IsRecoverable reports whether recovery should be attempted.
func (c ErrorClassification) IsRecoverable() bool {
	return c.Kind != KindUnknown && c.Confidence >= RecoverableConfidence
}

// RecoveryAction identifies one recovery handler.
type RecoveryAction string

const (
	ActionWaitAndRetry        RecoveryAction = "WaitAndRetry"
	ActionPageRefresh         RecoveryAction = "PageRefresh"
	ActionNavigationRetry     RecoveryAction = "NavigationRetry"
	ActionAlternativeSelector RecoveryAction = "AlternativeSelector"
	ActionWaitForStability    RecoveryAction = "WaitForStability"
	ActionClearCookies        RecoveryAction = "ClearCookies"
	ActionClearCache          RecoveryAction = "ClearCache"
	ActionRestartContext      RecoveryAction = "RestartContext"
)

// AllRecoveryActions lists every supported action.
func AllRecoveryActions() []RecoveryAction {
	return []RecoveryAction{
		ActionWaitAndRetry,
		ActionPageRefresh,
		ActionNavigationRetry,
		ActionAlternativeSelector,
		ActionWaitForStability,
		ActionClearCookies,
		ActionClearCache,
		ActionRestartContext,
	}
}

// ParseRecoveryAction validates an action name.
func ParseRecoveryAction(name string) (RecoveryAction, error) {
	for _, a := range AllRecoveryActions() {
		if strings.EqualFold(string(a), name) {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown recovery action %q", name)
}
