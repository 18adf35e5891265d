package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSpecs(t *testing.T) {
	lookup := func(k string) (string, bool) {
		if k == "FROM_HOST" {
			return "host-value", true
		}
		return "", false
	}

	tests := map[string]struct {
		specs  []string
		expEnv map[string]string
		expErr bool
	}{
		"KEY=VALUE should parse": {
			specs:  []string{"NODE_OPTIONS=--max-old-space-size=1536"},
			expEnv: map[string]string{"NODE_OPTIONS": "--max-old-space-size=1536"},
		},
		"KEY should inherit from host": {
			specs:  []string{"FROM_HOST"},
			expEnv: map[string]string{"FROM_HOST": "host-value"},
		},
		"Empty value should be kept": {
			specs:  []string{"CI="},
			expEnv: map[string]string{"CI": ""},
		},
		"Later entries should override earlier ones": {
			specs:  []string{"PORT=3000", "PORT=5173"},
			expEnv: map[string]string{"PORT": "5173"},
		},
		"Missing inherited var should fail": {
			specs:  []string{"DOES_NOT_EXIST"},
			expErr: true,
		},
		"Invalid key should fail": {
			specs:  []string{"1INVALID=value"},
			expErr: true,
		},
		"Empty spec should fail": {
			specs:  []string{""},
			expErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			env, err := parseSpecs(tc.specs, lookup)

			if tc.expErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expEnv, env)
		})
	}
}

func TestMerge(t *testing.T) {
	base := map[string]string{"HOST": "0.0.0.0", "BROWSER": "none"}
	merged := Merge(base, map[string]string{"HOST": "127.0.0.1", "PORT": "3000"})

	assert.Equal(t, map[string]string{"HOST": "127.0.0.1", "BROWSER": "none", "PORT": "3000"}, merged)
	assert.Equal(t, map[string]string{"HOST": "0.0.0.0", "BROWSER": "none"}, base)
	assert.Equal(t, map[string]string{}, Merge(nil, nil))
}
