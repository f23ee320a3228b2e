// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package config

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes the YAML document read from the [io.Reader]
// produced by r into a T.
func UnmarshalYAML[T any, R io.Reader](r Reader[R]) Reader[T] {
	return Map(r, func(ctx context.Context, rd R) (T, error) {
		var t T
		dec := yaml.NewDecoder(rd)
		err := dec.Decode(&t)
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return t, fmt.Errorf("config: failed to decode yaml: %w", err)
		}
		return t, nil
	})
}
