package observability

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownObserver is returned for a name that was never registered
var ErrUnknownObserver = errors.New("observability: unknown observer")

// named maps the names accepted by the "observers" configuration key to
// constructors. "slog" is built on lookup so it follows slog.SetDefault.
var (
	namedMu sync.RWMutex
	named   = map[string]func() Observer{
		"noop": func() Observer { return NoOpObserver{} },
		"slog": func() Observer { return NewSlogObserver(slog.Default()) },
	}
)

// GetObserver resolves a configured observer name
func GetObserver(name string) (Observer, error) {
	namedMu.RLock()
	build, ok := named[name]
	namedMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w %q (known: %s)", ErrUnknownObserver, name, strings.Join(ObserverNames(), ", "))
	}
	return build(), nil
}

// RegisterObserver makes observer selectable by name from configuration.
// Registering an existing name replaces it.
func RegisterObserver(name string, observer Observer) {
	namedMu.Lock()
	defer namedMu.Unlock()
	named[name] = func() Observer { return observer }
}

// ObserverNames lists the registered names in sorted order
func ObserverNames() []string {
	namedMu.RLock()
	defer namedMu.RUnlock()

	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
