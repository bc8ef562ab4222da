package options

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/config"
)

type fakeLoader struct {
	config.Loader
	config.Initializer
}

func TestDefaultOptions(t *testing.T) {
	t.Parallel()

	opts := defaultOptions()

	require.NotNil(t, opts.ConfigLoader)
	require.NotNil(t, opts.ConfigInitializer)
}

func TestNewOptions_NoOverrides(t *testing.T) {
	t.Parallel()

	opts, err := NewOptions()
	require.NoError(t, err)

	require.NotNil(t, opts.ConfigLoader)
	require.NotNil(t, opts.ConfigInitializer)
}

func TestNewOptions_WithOverrides(t *testing.T) {
	t.Parallel()

	loader := &fakeLoader{}

	opts, err := NewOptions(
		WithConfigLoader(loader),
		WithConfigInitializer(loader),
	)
	require.NoError(t, err)

	require.Same(t, loader, opts.ConfigLoader)
	require.Same(t, loader, opts.ConfigInitializer)
}

func TestNewOptions_SkipsNilOptions(t *testing.T) {
	t.Parallel()

	opts, err := NewOptions(nil, nil)
	require.NoError(t, err)
	require.NotNil(t, opts.ConfigLoader)
}

func TestNewOptions_PropagatesOptionError(t *testing.T) {
	t.Parallel()

	boom := func(*CmdOptions) error { return fmt.Errorf("boom") }

	_, err := NewOptions(boom)
	require.Error(t, err)
	require.ErrorContains(t, err, "boom")
}
