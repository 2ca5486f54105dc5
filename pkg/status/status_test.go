package status

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/windowsadmins/appdeploy/pkg/deployinfo"
)

func TestContainsFold(t *testing.T) {
	t.Parallel()

	assert.True(t, containsFold("Oracle SQL Developer 23.1", "sql developer"))
	assert.True(t, containsFold("SQLDeveloper", "SQLDEVELOPER"))
	assert.False(t, containsFold("Oracle Database Client", "SQL Developer"))
	assert.True(t, containsFold("anything", ""))
}

func TestIsOlderVersion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		local  string
		remote string
		want   bool
	}{
		{"older", "22.2.1", "23.1.0", true},
		{"newer", "23.1.1", "23.1.0", false},
		{"equal", "23.1.0", "23.1.0", false},
		{"equal after normalization", "23.1", "23.1.0", false},
		{"four segment compare", "23.1.0.097", "23.1.0.345", true},
		{"unparseable local", "not-a-version", "23.1.0", false},
		{"unparseable remote", "23.1.0", "n/a", false},
		{"both empty", "", "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsOlderVersion(tc.local, tc.remote))
		})
	}
}

func TestInstallNeeded(t *testing.T) {
	t.Parallel()

	info := &deployinfo.DeployInfo{Name: "SQLDeveloper", Version: "23.1.0"}

	t.Run("not installed", func(t *testing.T) {
		assert.True(t, InstallNeeded(Detection{}, info))
	})

	t.Run("older version installed", func(t *testing.T) {
		det := Detection{Installed: true, Version: "22.2.1", Source: "receipt"}
		assert.True(t, InstallNeeded(det, info))
	})

	t.Run("same version installed", func(t *testing.T) {
		det := Detection{Installed: true, Version: "23.1.0", Source: "registry"}
		assert.False(t, InstallNeeded(det, info))
	})

	t.Run("newer version installed", func(t *testing.T) {
		det := Detection{Installed: true, Version: "24.0.0", Source: "registry"}
		assert.False(t, InstallNeeded(det, info))
	})

	t.Run("unparseable installed version", func(t *testing.T) {
		det := Detection{Installed: true, Version: "unknown", Source: "registry"}
		assert.False(t, InstallNeeded(det, info))
	})
}

func TestEstimatedSizeKB(t *testing.T) {
	t.Parallel()

	t.Run("explicit estimate wins", func(t *testing.T) {
		info := &deployinfo.DeployInfo{
			Installer: deployinfo.InstallerItem{EstimatedSizeKB: 2048, Size: 999999},
		}
		assert.Equal(t, uint32(2048), estimatedSizeKB(info))
	})

	t.Run("derived from payload size", func(t *testing.T) {
		info := &deployinfo.DeployInfo{
			Installer: deployinfo.InstallerItem{Size: 4 * 1024 * 1024},
		}
		assert.Equal(t, uint32(4096), estimatedSizeKB(info))
	})

	t.Run("unknown", func(t *testing.T) {
		assert.Equal(t, uint32(0), estimatedSizeKB(&deployinfo.DeployInfo{}))
	})
}

func TestDisplayIcon(t *testing.T) {
	t.Parallel()

	t.Run("first shortcut with an icon", func(t *testing.T) {
		info := &deployinfo.DeployInfo{
			Shortcuts: []deployinfo.Shortcut{
				{Name: "SQL Developer"},
				{Name: "SQL Developer Docs", IconLocation: `C:\Tools\sqldev\icon.ico`},
			},
		}
		assert.Equal(t, `C:\Tools\sqldev\icon.ico`, displayIcon(info))
	})

	t.Run("no icons", func(t *testing.T) {
		info := &deployinfo.DeployInfo{
			Shortcuts: []deployinfo.Shortcut{{Name: "SQL Developer"}},
		}
		assert.Equal(t, "", displayIcon(info))
	})
}
