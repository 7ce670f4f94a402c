package daemon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpawnCommand(t *testing.T) {
	cmd := spawnCommand("/usr/bin/ferrisindex", SpawnOptions{})
	assert.Equal(t, []string{"/usr/bin/ferrisindex", "daemon"}, cmd.Args)
	assert.Empty(t, cmd.Dir)
	assert.True(t, cmd.SysProcAttr.Setsid)
	assert.Nil(t, cmd.Stdin)

	cmd = spawnCommand("/usr/bin/ferrisindex", SpawnOptions{
		ConfigFile: "/home/u/proj/ferrisindex.toml",
		Dir:        "/home/u/proj",
	})
	assert.Equal(t, []string{"/usr/bin/ferrisindex", "daemon", "--config", "/home/u/proj/ferrisindex.toml"}, cmd.Args)
	assert.Equal(t, "/home/u/proj", cmd.Dir)
}
