package tools

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// ErrMissingInput is returned when an action carries no usable query text.
var ErrMissingInput = errors.New("action input has no query text")

// queryArgs is the argument shape every built-in tool accepts.
type queryArgs struct {
	Input string `mapstructure:"input"`
}

// decodeInput extracts the query text from an action input. Models do not
// always use the "input" key, so the first string value (by key order) is
// accepted as well.
func decodeInput(args map[string]any) (string, error) {
	var qa queryArgs
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &qa,
	})
	if err != nil {
		return "", err
	}
	if err := dec.Decode(args); err != nil {
		return "", fmt.Errorf("decode action input: %w", err)
	}
	if s := strings.TrimSpace(qa.Input); s != "" {
		return s, nil
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := args[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s), nil
		}
	}
	return "", ErrMissingInput
}
