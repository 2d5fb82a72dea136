package flagx

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

var ingesterFlags = []string{"-a", "-d", "-v", "-k", "-r", "-u", "-p", "-g", "-e", "-b", "-l", "-i", "-t"}

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		allowed []string
		want    []string
	}{
		{"config selection skips component flags",
			[]string{"-c", "/etc/photoimport/ingester.json", "-a", ":8080", "-b", "camera-drop"},
			[]string{"-c", "-config"},
			[]string{"-c", "/etc/photoimport/ingester.json"}},
		{"component flags skip config selection",
			[]string{"-config=/etc/photoimport/ingester.json", "-d", "postgres://ingest@db/photos", "-b", "camera-drop"},
			ingesterFlags,
			[]string{"-d", "postgres://ingest@db/photos", "-b", "camera-drop"}},
		{"equals form keeps endpoint url intact",
			[]string{"-e=http://127.0.0.1:9000/", "-t=otel-collector:4318"},
			ingesterFlags,
			[]string{"-e=http://127.0.0.1:9000/", "-t=otel-collector:4318"}},
		{"vaultctl subcommand and key are dropped",
			[]string{"-v", "/var/lib/photoimport/vault.db", "set", "api_key"},
			ingesterFlags,
			[]string{"-v", "/var/lib/photoimport/vault.db"}},
		{"empty redis address is not consumed from next flag",
			[]string{"-r", "-k", "passphrase"},
			ingesterFlags,
			[]string{"-r", "-k", "passphrase"}},
		{"trailing flag without value kept",
			[]string{"-b", "camera-drop", "-l"},
			ingesterFlags,
			[]string{"-b", "camera-drop", "-l"}},
		{"unknown flags ignored",
			[]string{"-x", "1", "--prefix=raw/", "positional"},
			ingesterFlags,
			[]string{}},
		{"repeated flag preserved in order",
			[]string{"-b", "first-bucket", "-b", "second-bucket"},
			ingesterFlags,
			[]string{"-b", "first-bucket", "-b", "second-bucket"}},
		{"no args",
			[]string{},
			[]string{"-c", "-config"},
			[]string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FilterArgs(tt.args, tt.allowed))
		})
	}
}

func Test_jsonConfigFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/short.json"}
		assert.Equal(t, "/path/short.json", JsonConfigFlags())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", "/path/long.json"}
		assert.Equal(t, "/path/long.json", JsonConfigFlags())
	})

	t.Run("unknown flags are ignored", func(t *testing.T) {
		t.Setenv(ConfigEnvVar, "")
		os.Args = []string{"testbin", "-x", "1", "-y", "2"}
		assert.Empty(t, JsonConfigFlags())
	})

	t.Run("multiple flags, last wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/path/1.json", "-config", "/path/2.json"}
		assert.Equal(t, "/path/2.json", JsonConfigFlags())
	})

	t.Run("falls back to environment", func(t *testing.T) {
		t.Setenv(ConfigEnvVar, "/etc/photoimport/env.json")
		os.Args = []string{"testbin"}
		assert.Equal(t, "/etc/photoimport/env.json", JsonConfigFlags())
	})

	t.Run("flag beats environment", func(t *testing.T) {
		t.Setenv(ConfigEnvVar, "/etc/photoimport/env.json")
		os.Args = []string{"testbin", "-c", "/path/flag.json"}
		assert.Equal(t, "/path/flag.json", JsonConfigFlags())
	})
}
