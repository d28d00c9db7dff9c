package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePortList(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []int
		wantErr bool
	}{
		{"empty", "", nil, false},
		{"single", "22", []int{22}, false},
		{"multiple", "22,80,443", []int{22, 80, 443}, false},
		{"spaces", " 22, 80 ", []int{22, 80}, false},
		{"trailing comma", "22,", []int{22}, false},
		{"zero", "0", nil, true},
		{"too large", "70000", nil, true},
		{"garbage", "ssh", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePortList(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "4f9f3b2a", shortID("4f9f3b2a-0000-0000-0000-000000000000"))
	assert.Equal(t, "abc", shortID("abc"))
}

func TestJoinPorts(t *testing.T) {
	assert.Equal(t, "22, 80, 443", joinPorts([]int{22, 80, 443}))
	assert.Equal(t, "", joinPorts(nil))
}

func TestBoolWord(t *testing.T) {
	assert.Equal(t, "yes", boolWord(true))
	assert.Equal(t, "no", boolWord(false))
}

func TestCommandRegistration(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
	}

	for _, want := range []string{"scan", "daemon", "devices", "alerts", "rules", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestGetAPIKeyPrecedence(t *testing.T) {
	t.Setenv("ECHOLOCATE_API_KEY", "from-env")
	assert.Equal(t, "from-env", getAPIKey("from-config"))

	t.Setenv("ECHOLOCATE_API_KEY", "")
	assert.Equal(t, "from-config", getAPIKey("from-config"))
}
