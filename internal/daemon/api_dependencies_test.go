package daemon

import (
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/composer"
	"github.com/mcpmux/mcpmux/internal/config"
)

func TestNewAPIDependencies(t *testing.T) {
	t.Parallel()

	newComposer := func(t *testing.T) *composer.Composer {
		t.Helper()
		comp, err := composer.NewComposer(hclog.NewNullLogger(), config.ComposerConfig{})
		require.NoError(t, err)
		return comp
	}

	t.Run("valid dependencies", func(t *testing.T) {
		t.Parallel()

		comp := newComposer(t)
		deps, err := NewAPIDependencies(hclog.NewNullLogger(), comp, &staticConfigSource{}, "localhost:8090")
		require.NoError(t, err)

		// The composer fronts every contract except the config source.
		require.NotNil(t, deps.Servers)
		require.NotNil(t, deps.Capabilities)
		require.NotNil(t, deps.Invoker)
		require.NotNil(t, deps.Health)
		require.NotNil(t, deps.Reloader)
		require.NotNil(t, deps.Source)
		require.Equal(t, "localhost:8090", deps.Addr)
	})

	t.Run("nil composer rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewAPIDependencies(hclog.NewNullLogger(), nil, &staticConfigSource{}, "localhost:8090")
		require.Error(t, err)
		require.ErrorContains(t, err, "composer cannot be nil")
	})

	t.Run("nil source rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewAPIDependencies(hclog.NewNullLogger(), newComposer(t), nil, "localhost:8090")
		require.Error(t, err)
		require.ErrorContains(t, err, "config source cannot be nil")
	})

	t.Run("nil logger rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewAPIDependencies(nil, newComposer(t), &staticConfigSource{}, "localhost:8090")
		require.Error(t, err)
		require.ErrorContains(t, err, "logger cannot be nil")
	})

	t.Run("invalid address rejected", func(t *testing.T) {
		t.Parallel()

		_, err := NewAPIDependencies(hclog.NewNullLogger(), newComposer(t), &staticConfigSource{}, "not-an-addr")
		require.Error(t, err)
		require.ErrorContains(t, err, "invalid API address")
	})
}

func TestAPIDependencies_Validate(t *testing.T) {
	t.Parallel()

	base := func(t *testing.T) APIDependencies {
		t.Helper()
		return testAPIDependencies(t)
	}

	tests := []struct {
		name    string
		mutate  func(*APIDependencies)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*APIDependencies) {},
		},
		{
			name:    "missing server accessor",
			mutate:  func(d *APIDependencies) { d.Servers = nil },
			wantErr: "server accessor cannot be nil",
		},
		{
			name:    "missing capability view",
			mutate:  func(d *APIDependencies) { d.Capabilities = nil },
			wantErr: "capability view cannot be nil",
		},
		{
			name:    "missing invoker",
			mutate:  func(d *APIDependencies) { d.Invoker = nil },
			wantErr: "invoker cannot be nil",
		},
		{
			name:    "missing health monitor",
			mutate:  func(d *APIDependencies) { d.Health = nil },
			wantErr: "health monitor cannot be nil",
		},
		{
			name:    "missing reloader",
			mutate:  func(d *APIDependencies) { d.Reloader = nil },
			wantErr: "reloader cannot be nil",
		},
		{
			name:    "missing config source",
			mutate:  func(d *APIDependencies) { d.Source = nil },
			wantErr: "config source cannot be nil",
		},
		{
			name:    "missing logger",
			mutate:  func(d *APIDependencies) { d.Logger = nil },
			wantErr: "logger cannot be nil",
		},
		{
			name:    "bad address",
			mutate:  func(d *APIDependencies) { d.Addr = "9000" },
			wantErr: "invalid API address",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			deps := base(t)
			tc.mutate(&deps)

			err := deps.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
