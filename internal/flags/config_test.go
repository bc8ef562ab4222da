package flags

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestConfig_InitConfigFile_EnvVars(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{
			name:     "env var value with extra white space",
			value:    "  /custom/path/config.toml  ",
			expected: "/custom/path/config.toml",
		},
		{
			name:     "env var missing",
			value:    "", // Implementation uses os.Getenv which returns an empty string when missing.
			expected: DefaultConfigFile,
		},
		{
			name:     "env var only white space",
			value:    "   ",
			expected: DefaultConfigFile,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarConfigFile, tc.value)
			t.Cleanup(func() {
				// Reset global variable
				ConfigFile = ""
			})

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

			// Call init func.
			initConfigFile(fs)

			require.Equal(t, tc.expected, ConfigFile)
			flag := fs.Lookup(FlagNameConfigFile)
			require.NotNil(t, flag)
			require.Equal(t, tc.expected, flag.Value.String())
		})
	}
}

func TestConfig_InitLogger_EnvVars(t *testing.T) {
	tests := []struct {
		name          string
		logPathValue  string
		logLevelValue string
		expectedPath  string
		expectedLevel string
	}{
		{
			name:          "both env vars set with extra whitespace",
			logPathValue:  "  /var/log/mcpmux.log  ",
			logLevelValue: "  DEBUG  ",
			expectedPath:  "/var/log/mcpmux.log",
			expectedLevel: "debug",
		},
		{
			name:          "env vars set to only whitespace",
			logPathValue:  "   ",
			logLevelValue: "   ",
			expectedPath:  DefaultLogPath,
			expectedLevel: DefaultLogLevel,
		},
		{
			name:          "no env vars set",
			logPathValue:  "",
			logLevelValue: "",
			expectedPath:  DefaultLogPath,
			expectedLevel: DefaultLogLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarLogPath, tc.logPathValue)
			t.Setenv(EnvVarLogLevel, tc.logLevelValue)
			t.Cleanup(func() {
				LogPath = ""
				LogLevel = ""
			})

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			initLogger(fs)

			require.Equal(t, tc.expectedPath, LogPath)
			require.Equal(t, tc.expectedLevel, LogLevel)

			pathFlag := fs.Lookup(FlagNameLogPath)
			require.NotNil(t, pathFlag)
			require.Equal(t, tc.expectedPath, pathFlag.Value.String())

			levelFlag := fs.Lookup(FlagNameLogLevel)
			require.NotNil(t, levelFlag)
			require.Equal(t, tc.expectedLevel, levelFlag.Value.String())
		})
	}
}

func TestConfig_ConfigFile_Precedence(t *testing.T) {
	tests := []struct {
		name        string
		envValue    string
		cmdLineArgs []string
		expected    string
	}{
		{
			name:        "flag takes precedence over everything",
			envValue:    "/env/path/config.toml",
			cmdLineArgs: []string{"--" + FlagNameConfigFile, "/flag/path/config.toml"},
			expected:    "/flag/path/config.toml",
		},
		{
			name:        "env var takes precedence over default value",
			envValue:    "/env/only/path.toml",
			cmdLineArgs: nil,
			expected:    "/env/only/path.toml",
		},
		{
			name:        "default used when no flag and no env var set",
			envValue:    "",
			cmdLineArgs: nil,
			expected:    DefaultConfigFile,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Cleanup(func() {
				ConfigFile = ""
			})

			t.Setenv(EnvVarConfigFile, tc.envValue)

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

			initConfigFile(fs)
			err := fs.Parse(tc.cmdLineArgs)

			require.NoError(t, err)
			require.Equal(t, tc.expected, ConfigFile)
			flag := fs.Lookup(FlagNameConfigFile)
			require.NotNil(t, flag)
			require.Equal(t, tc.expected, flag.Value.String())
		})
	}
}

func TestConfig_LoggerFlags_Precedence(t *testing.T) {
	tests := []struct {
		name          string
		envLogPath    string
		envLogLevel   string
		cmdLineArgs   []string
		expectedPath  string
		expectedLevel string
	}{
		{
			name:          "flags take precedence over env vars",
			envLogPath:    "/env/log/path.log",
			envLogLevel:   "warn",
			cmdLineArgs:   []string{"--" + FlagNameLogPath, "/flag/log/path.log", "--" + FlagNameLogLevel, "debug"},
			expectedPath:  "/flag/log/path.log",
			expectedLevel: "debug",
		},
		{
			name:          "env vars used when flags not set",
			envLogPath:    "/env/only/path.log",
			envLogLevel:   "INFO",
			cmdLineArgs:   nil,
			expectedPath:  "/env/only/path.log",
			expectedLevel: "info",
		},
		{
			name:          "defaults used when neither flags nor env vars set",
			envLogPath:    "",
			envLogLevel:   "",
			cmdLineArgs:   nil,
			expectedPath:  DefaultLogPath,
			expectedLevel: DefaultLogLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Cleanup(func() {
				LogPath = ""
				LogLevel = ""
			})

			t.Setenv(EnvVarLogPath, tc.envLogPath)
			t.Setenv(EnvVarLogLevel, tc.envLogLevel)

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

			initLogger(fs)
			err := fs.Parse(tc.cmdLineArgs)

			require.NoError(t, err)
			require.Equal(t, tc.expectedPath, LogPath)
			require.Equal(t, tc.expectedLevel, LogLevel)
		})
	}
}

func TestConfig_InitFlags(t *testing.T) {
	tests := []struct {
		name            string
		envConfig       string
		envLogPath      string
		envLogLevel     string
		cmdLineArgs     []string
		expectedConfig  string
		expectedLogPath string
		expectedLogLvl  string
	}{
		{
			name:        "all flags take precedence over env and defaults",
			envConfig:   "/env/config.toml",
			envLogPath:  "/env/log/path.log",
			envLogLevel: "warn",
			cmdLineArgs: []string{
				"--" + FlagNameConfigFile, "/flag/config.toml",
				"--" + FlagNameLogPath, "/flag/log.log",
				"--" + FlagNameLogLevel, "debug",
			},
			expectedConfig:  "/flag/config.toml",
			expectedLogPath: "/flag/log.log",
			expectedLogLvl:  "debug",
		},
		{
			name:            "env vars used when flags not set",
			envConfig:       "/env/only/config.toml",
			envLogPath:      "/env/only/log.log",
			envLogLevel:     "info",
			cmdLineArgs:     nil,
			expectedConfig:  "/env/only/config.toml",
			expectedLogPath: "/env/only/log.log",
			expectedLogLvl:  "info",
		},
		{
			name:            "default values used when nothing set",
			envConfig:       "",
			envLogPath:      "",
			envLogLevel:     "",
			cmdLineArgs:     nil,
			expectedConfig:  DefaultConfigFile,
			expectedLogPath: DefaultLogPath,
			expectedLogLvl:  DefaultLogLevel,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarConfigFile, tc.envConfig)
			t.Setenv(EnvVarLogPath, tc.envLogPath)
			t.Setenv(EnvVarLogLevel, tc.envLogLevel)

			t.Cleanup(func() {
				ConfigFile = ""
				LogPath = ""
				LogLevel = ""
			})

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)

			InitFlags(fs)

			err := fs.Parse(tc.cmdLineArgs)
			require.NoError(t, err)

			require.Equal(t, tc.expectedConfig, ConfigFile)
			require.Equal(t, tc.expectedLogPath, LogPath)
			require.Equal(t, tc.expectedLogLvl, LogLevel)

			require.Equal(t, tc.expectedConfig, fs.Lookup(FlagNameConfigFile).Value.String())
			require.Equal(t, tc.expectedLogPath, fs.Lookup(FlagNameLogPath).Value.String())
			require.Equal(t, tc.expectedLogLvl, fs.Lookup(FlagNameLogLevel).Value.String())
		})
	}
}

func TestAPIAddr(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		expected string
	}{
		{
			name:     "env var set",
			envValue: "localhost:9999",
			expected: "localhost:9999",
		},
		{
			name:     "env var set with whitespace",
			envValue: "  localhost:9999  ",
			expected: "localhost:9999",
		},
		{
			name:     "env var unset yields empty",
			envValue: "",
			expected: "",
		},
		{
			name:     "env var whitespace only yields empty",
			envValue: "   ",
			expected: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarAPIAddr, tc.envValue)

			require.Equal(t, tc.expected, APIAddr())
		})
	}
}
