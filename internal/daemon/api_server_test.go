package daemon

import (
	"fmt"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mcpmux/mcpmux/internal/composer"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/errors"
)

// testAPIDependencies builds a valid dependency set backed by an empty
// composer and a static config source.
func testAPIDependencies(t *testing.T) APIDependencies {
	t.Helper()

	comp, err := composer.NewComposer(hclog.NewNullLogger(), config.ComposerConfig{})
	require.NoError(t, err)

	deps, err := NewAPIDependencies(
		hclog.NewNullLogger(),
		comp,
		&staticConfigSource{},
		"localhost:8090",
	)
	require.NoError(t, err)

	return deps
}

func TestNewAPIServer_AppliesDefaults(t *testing.T) {
	t.Parallel()

	deps := testAPIDependencies(t)

	// Test with no options - should get defaults
	server, err := NewAPIServer(deps)
	require.NoError(t, err)
	require.NotNil(t, server)
	require.Equal(t, DefaultAPIShutdownTimeout(), server.shutdownTimeout)
	require.False(t, server.cors.Enabled)

	// Test with some options - should get defaults + overrides
	server2, err := NewAPIServer(deps, WithShutdownTimeout(10*time.Second), WithCORSEnabled(true))
	require.NoError(t, err)
	require.NotNil(t, server2)
	require.Equal(t, 10*time.Second, server2.shutdownTimeout)
	require.True(t, server2.cors.Enabled)

	// Test with nil options - should still work
	server3, err := NewAPIServer(deps, nil, WithShutdownTimeout(3*time.Second), nil)
	require.NoError(t, err)
	require.NotNil(t, server3)
	require.Equal(t, 3*time.Second, server3.shutdownTimeout)
}

func TestNewAPIServer_RejectsInvalidDependencies(t *testing.T) {
	t.Parallel()

	deps := testAPIDependencies(t)
	deps.Invoker = nil

	_, err := NewAPIServer(deps)
	require.Error(t, err)
	require.ErrorContains(t, err, "invoker cannot be nil")
}

func TestAPIServer_ApplyCORS(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		corsConfig CORSConfig
	}{
		{
			name: "basic CORS configuration",
			corsConfig: CORSConfig{
				Enabled:          true,
				AllowOrigins:     []string{"http://localhost:3000", "https://example.com"},
				AllowMethods:     []string{"GET", "POST", "PUT"},
				AllowedHeaders:   []string{"Content-Type", "Authorization"},
				ExposedHeaders:   []string{"X-Total-Count"},
				AllowCredentials: true,
				MaxAge:           5 * time.Minute,
			},
		},
		{
			name: "wildcard origin with credentials - should force credentials to false",
			corsConfig: CORSConfig{
				Enabled:          true,
				AllowOrigins:     []string{"http://localhost:3000", "*", "https://example.com"},
				AllowMethods:     []string{"GET", "POST"},
				AllowedHeaders:   []string{"Content-Type"},
				AllowCredentials: true, // This should be overridden to false
				MaxAge:           10 * time.Minute,
			},
		},
		{
			name: "single wildcard origin",
			corsConfig: CORSConfig{
				Enabled:          true,
				AllowOrigins:     []string{"*"},
				AllowMethods:     []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders:   []string{"Content-Type"},
				AllowCredentials: false,
				MaxAge:           1 * time.Hour,
			},
		},
		{
			name: "origins with whitespace should be trimmed",
			corsConfig: CORSConfig{
				Enabled:      true,
				AllowOrigins: []string{"  http://localhost:3000  ", " https://example.com ", "http://test.com"},
				AllowMethods: []string{"GET"},
			},
		},
		{
			name: "empty origins list",
			corsConfig: CORSConfig{
				Enabled:      true,
				AllowOrigins: []string{},
				AllowMethods: []string{"GET", "POST"},
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := &APIServer{
				logger: hclog.NewNullLogger(),
				cors:   tc.corsConfig,
			}

			mux := testNewChiMux(t)

			require.NotPanics(t, func() {
				server.applyCORS(mux)
			})
		})
	}
}

func TestAPIServer_CORSFromConfig(t *testing.T) {
	t.Parallel()

	deps := testAPIDependencies(t)

	server, err := NewAPIServer(deps, WithCORS(config.CORSConfig{
		Enabled:      true,
		AllowOrigins: []string{"http://localhost:3000"},
	}))
	require.NoError(t, err)
	require.True(t, server.cors.Enabled)
	require.Equal(t, []string{"http://localhost:3000"}, server.cors.AllowOrigins)

	// File settings leave defaults for everything else intact.
	require.Equal(t, DefaultCORSAllowMethods(), server.cors.AllowMethods)
	require.Equal(t, DefaultCORSMaxAge(), server.cors.MaxAge)

	mux := testNewChiMux(t)
	require.NotPanics(t, func() {
		server.applyCORS(mux)
	})
}

// Test helper to create a chi mux for testing
func testNewChiMux(t *testing.T) *chi.Mux {
	t.Helper()
	return chi.NewMux()
}

func TestMapError(t *testing.T) {
	t.Parallel()

	logger := hclog.NewNullLogger()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
	}{
		{
			name:           "ErrBadRequest maps to 400",
			err:            errors.ErrBadRequest,
			expectedStatus: 400,
		},
		{
			name:           "ErrConfigInvalid maps to 400",
			err:            errors.ErrConfigInvalid,
			expectedStatus: 400,
		},
		{
			name:           "ErrInvalidArguments maps to 400",
			err:            errors.ErrInvalidArguments,
			expectedStatus: 400,
		},
		{
			name:           "ErrServerNotFound maps to 404",
			err:            errors.ErrServerNotFound,
			expectedStatus: 404,
		},
		{
			name:           "ErrCapabilityNotFound maps to 404",
			err:            errors.ErrCapabilityNotFound,
			expectedStatus: 404,
		},
		{
			name:           "ErrHealthNotTracked maps to 404",
			err:            errors.ErrHealthNotTracked,
			expectedStatus: 404,
		},
		{
			name:           "ErrCapabilityConflict maps to 409",
			err:            errors.ErrCapabilityConflict,
			expectedStatus: 409,
		},
		{
			name:           "ErrStartupFailed maps to 502",
			err:            errors.ErrStartupFailed,
			expectedStatus: 502,
		},
		{
			name:           "ErrTransportClosed maps to 502",
			err:            errors.ErrTransportClosed,
			expectedStatus: 502,
		},
		{
			name:           "ErrToolCallFailed maps to 502",
			err:            errors.ErrToolCallFailed,
			expectedStatus: 502,
		},
		{
			name:           "ErrServerUnavailable maps to 503",
			err:            errors.ErrServerUnavailable,
			expectedStatus: 503,
		},
		{
			name:           "ErrInvokeTimeout maps to 504",
			err:            errors.ErrInvokeTimeout,
			expectedStatus: 504,
		},
		{
			name:           "wrapped sentinel keeps its mapping",
			err:            fmt.Errorf("%w: server 'github'", errors.ErrServerNotFound),
			expectedStatus: 404,
		},
		{
			name:           "Unknown error maps to 500",
			err:            fmt.Errorf("unknown error"),
			expectedStatus: 500,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			statusErr := mapError(logger, tc.err)
			require.Equal(t, tc.expectedStatus, statusErr.GetStatus())
		})
	}
}
