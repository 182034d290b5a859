package checkers

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
)

// decodeLoose maps a decoded JSON value onto out, coercing scalars where the
// provider is inconsistent about strings and numbers.
func decodeLoose(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(input); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
