package paths_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamox/tmc-sandbox/internal/paths"
	"github.com/stretchr/testify/require"
)

func TestPathDerivation(t *testing.T) {
	p, err := paths.New("/srv/sandbox", "/opt/supervisor")
	require.NoError(t, err)

	require.Equal(t, "/srv/sandbox/linux.uml", p.Kernel())
	require.Equal(t, "/srv/sandbox/rootfs.squashfs", p.Rootfs())
	require.Equal(t, "/srv/sandbox/initrd.img", p.Initrd())
	require.Equal(t, "/opt/supervisor/work", p.WorkDir())
	require.Equal(t, "/opt/supervisor/work/output.tar", p.OutputTar())
	require.Equal(t, "/opt/supervisor/work/vm.log", p.VMLog())
	require.Equal(t, "/opt/supervisor/sandbox.lock", p.AdmissionLock())
}

func TestRelativeRootsRejected(t *testing.T) {
	_, err := paths.New("sandbox", "/opt/supervisor")
	require.Error(t, err)

	_, err = paths.New("/srv/sandbox", "supervisor")
	require.Error(t, err)
}

func TestCheckArtifacts(t *testing.T) {
	root := t.TempDir()
	install := t.TempDir()

	p, err := paths.New(root, install)
	require.NoError(t, err)

	err = p.CheckArtifacts()
	require.Error(t, err)
	require.Contains(t, err.Error(), "linux.uml")
	require.Contains(t, err.Error(), "rootfs.squashfs")
	require.Contains(t, err.Error(), "initrd.img")

	for _, fname := range []string{"linux.uml", "rootfs.squashfs", "initrd.img"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, fname), []byte("x"), 0644))
	}

	require.NoError(t, p.CheckArtifacts())
}
