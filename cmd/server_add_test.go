package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internalcmd "github.com/mcpmux/mcpmux/internal/cmd"
	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/domain"
	"github.com/mcpmux/mcpmux/internal/flags"
)

func TestServerAdd(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		initialContent string
		expectedError  string
		expectedOutput string
		verify         func(t *testing.T, cfg config.Config)
	}{
		{
			name: "stdio server with args and env",
			args: []string{
				"github",
				"--kind", "stdio-process",
				"--command", "npx",
				"--arg", "-y",
				"--arg", "@modelcontextprotocol/server-github",
				"--env", "GITHUB_TOKEN=${GITHUB_TOKEN}",
			},
			expectedOutput: "✓ Added server 'github' (stdio-process)",
			verify: func(t *testing.T, cfg config.Config) {
				t.Helper()
				require.Len(t, cfg.Servers, 1)
				entry := cfg.Servers[0]
				require.Equal(t, "github", entry.Name)
				require.Equal(t, domain.ServerKindStdio, entry.Kind)
				require.Equal(t, "npx", entry.Command)
				require.Equal(t, []string{"-y", "@modelcontextprotocol/server-github"}, entry.Args)
				require.Equal(t, map[string]string{"GITHUB_TOKEN": "${GITHUB_TOKEN}"}, entry.Env)
			},
		},
		{
			name: "embedded module",
			args: []string{"calc", "--kind", "embedded", "--module", "calc"},
			verify: func(t *testing.T, cfg config.Config) {
				t.Helper()
				require.Len(t, cfg.Servers, 1)
				require.Equal(t, domain.ServerKindEmbedded, cfg.Servers[0].Kind)
				require.Equal(t, "calc", cfg.Servers[0].Module)
			},
		},
		{
			name: "sse remote with restart policy",
			args: []string{
				"remote",
				"--kind", "sse-remote",
				"--url", "https://mcp.example.com/sse",
				"--restart-policy", "on-failure",
				"--max-restarts", "5",
				"--restart-delay", "2s",
			},
			verify: func(t *testing.T, cfg config.Config) {
				t.Helper()
				require.Len(t, cfg.Servers, 1)
				entry := cfg.Servers[0]
				require.Equal(t, domain.RestartOnFailure, entry.RestartPolicy)
				require.NotNil(t, entry.MaxRestarts)
				require.Equal(t, 5, *entry.MaxRestarts)
				require.Equal(t, 2*time.Second, entry.RestartDelay.Duration)
			},
		},
		{
			name: "max restarts stays unset without the flag",
			args: []string{"calc", "--kind", "embedded", "--module", "calc"},
			verify: func(t *testing.T, cfg config.Config) {
				t.Helper()
				require.Len(t, cfg.Servers, 1)
				require.Nil(t, cfg.Servers[0].MaxRestarts)
			},
		},
		{
			name: "appends to existing servers",
			args: []string{"echo", "--kind", "embedded", "--module", "echo"},
			initialContent: `[[servers]]
name = "calc"
kind = "embedded"
module = "calc"
`,
			verify: func(t *testing.T, cfg config.Config) {
				t.Helper()
				require.Len(t, cfg.Servers, 2)
				require.Equal(t, "calc", cfg.Servers[0].Name)
				require.Equal(t, "echo", cfg.Servers[1].Name)
			},
		},
		{
			name:          "missing server name",
			args:          []string{},
			expectedError: "server name is required and cannot be empty",
		},
		{
			name:          "unknown kind",
			args:          []string{"bad", "--kind", "carrier-pigeon"},
			expectedError: "unknown kind 'carrier-pigeon'",
		},
		{
			name:          "stdio without command",
			args:          []string{"bad", "--kind", "stdio-process"},
			expectedError: "stdio-process requires command",
		},
		{
			name:          "malformed env pair",
			args:          []string{"bad", "--kind", "embedded", "--module", "calc", "--env", "NOEQUALS"},
			expectedError: "invalid env entry 'NOEQUALS', expected KEY=VALUE",
		},
		{
			name: "duplicate server name",
			args: []string{"calc", "--kind", "embedded", "--module", "calc"},
			initialContent: `[[servers]]
name = "calc"
kind = "embedded"
module = "calc"
`,
			expectedError: "duplicate server name 'calc'",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), ".mcpmux.toml")
			content := tc.initialContent
			if content == "" {
				content = "servers = []\n"
			}
			require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

			output := &bytes.Buffer{}

			baseCmd := &internalcmd.BaseCmd{}
			c, err := NewServerAddCmd(baseCmd)
			require.NoError(t, err)
			c.SetOut(output)
			c.SetErr(output)
			c.SetArgs(tc.args)

			previousConfigFile := flags.ConfigFile
			defer func() { flags.ConfigFile = previousConfigFile }()
			flags.ConfigFile = configPath

			err = c.Execute()

			if tc.expectedError != "" {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tc.expectedError)
				return
			}

			assert.NoError(t, err)

			if tc.expectedOutput != "" {
				assert.Contains(t, output.String(), tc.expectedOutput)
			}

			var parsed config.Config
			_, err = toml.DecodeFile(configPath, &parsed)
			require.NoError(t, err)

			if tc.verify != nil {
				tc.verify(t, parsed)
			}
		})
	}
}

func TestParseEnvPairs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pairs   []string
		want    map[string]string
		wantErr string
	}{
		{
			name:  "nil input",
			pairs: nil,
			want:  nil,
		},
		{
			name:  "single pair",
			pairs: []string{"KEY=value"},
			want:  map[string]string{"KEY": "value"},
		},
		{
			name:  "value containing equals",
			pairs: []string{"KEY=a=b"},
			want:  map[string]string{"KEY": "a=b"},
		},
		{
			name:  "empty value",
			pairs: []string{"KEY="},
			want:  map[string]string{"KEY": ""},
		},
		{
			name:    "missing equals",
			pairs:   []string{"KEY"},
			wantErr: "invalid env entry",
		},
		{
			name:    "empty key",
			pairs:   []string{"=value"},
			wantErr: "invalid env entry",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := parseEnvPairs(tc.pairs)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
