package detector

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProbe struct {
	exists    bool
	existsErr error
	exe       string
	exeErr    error
	start     int64
	cmdline   []string
}

func (f fakeProbe) Exists(int) (bool, error)      { return f.exists, f.existsErr }
func (f fakeProbe) ExePath(int) (string, error)   { return f.exe, f.exeErr }
func (f fakeProbe) StartUnix(int) int64           { return f.start }
func (f fakeProbe) Cmdline(int) ([]string, error) { return f.cmdline, nil }

func TestExecutable_Alive(t *testing.T) {
	cases := []struct {
		name  string
		det   Executable
		alive bool
		err   bool
	}{
		{"no pid", Executable{PID: 0, Path: "/bin/app", Probe: fakeProbe{exists: true}}, false, false},
		{"gone", Executable{PID: 10, Path: "/bin/app", Probe: fakeProbe{}}, false, false},
		{"probe error", Executable{PID: 10, Path: "/bin/app", Probe: fakeProbe{existsErr: errors.New("eperm")}}, false, true},
		{"matching path", Executable{PID: 10, Path: "/bin/app", Probe: fakeProbe{exists: true, exe: "/bin/app"}}, true, false},
		{"case insensitive", Executable{PID: 10, Path: "/BIN/App", Probe: fakeProbe{exists: true, exe: "/bin/app"}}, true, false},
		{"not cleaned", Executable{PID: 10, Path: "/bin/../bin/./app", Probe: fakeProbe{exists: true, exe: "/bin/app"}}, true, false},
		{"reused pid other image", Executable{PID: 10, Path: "/bin/app", Probe: fakeProbe{exists: true, exe: "/usr/sbin/sshd"}}, false, false},
		{"path unknown", Executable{PID: 10, Path: "/bin/app", Probe: fakeProbe{exists: true, exeErr: errors.New("permission denied")}}, true, false},
		{"start time differs", Executable{PID: 10, Path: "/bin/app", StartUnix: 100, Probe: fakeProbe{exists: true, exe: "/bin/app", start: 200}}, false, false},
		{"start time matches", Executable{PID: 10, Path: "/bin/app", StartUnix: 100, Probe: fakeProbe{exists: true, exe: "/bin/app", start: 100}}, true, false},
		{"start time unknown", Executable{PID: 10, Path: "/bin/app", StartUnix: 100, Probe: fakeProbe{exists: true, exe: "/bin/app"}}, true, false},
		{"interpreted script", Executable{PID: 10, Path: "/opt/run.sh", Probe: fakeProbe{exists: true, exe: "/bin/bash", cmdline: []string{"/bin/sh", "/opt/run.sh"}}}, true, false},
		{"interpreter running other script", Executable{PID: 10, Path: "/opt/run.sh", Probe: fakeProbe{exists: true, exe: "/bin/bash", cmdline: []string{"/bin/sh", "/opt/other.sh"}}}, false, false},
		{"no path configured", Executable{PID: 10, Probe: fakeProbe{exists: true, exe: "/x"}}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := tc.det.Alive()
			assert.Equal(t, tc.alive, ok)
			if tc.err {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecutable_Describe(t *testing.T) {
	assert.Equal(t, "exe:42:/bin/app", Executable{PID: 42, Path: "/bin/app"}.Describe())
}

func TestSamePath_Symlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	dir := t.TempDir()
	target := filepath.Join(dir, "real-bin")
	require.NoError(t, os.WriteFile(target, []byte("#!/bin/sh\n"), 0o755))
	link := filepath.Join(dir, "link-bin")
	require.NoError(t, os.Symlink(target, link))
	assert.True(t, SamePath(link, target))
	assert.False(t, SamePath(link, filepath.Join(dir, "other")))
}

func TestHostProbe_Self(t *testing.T) {
	p := HostProbe{}
	pid := os.Getpid()
	ok, err := p.Exists(pid)
	require.NoError(t, err)
	assert.True(t, ok)

	exe, err := os.Executable()
	require.NoError(t, err)
	alive, err := Executable{PID: pid, Path: exe, StartUnix: p.StartUnix(pid)}.Alive()
	require.NoError(t, err)
	assert.True(t, alive)

	ok, err = p.Exists(0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHostProbe_ExitedChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix only")
	}
	cmd := exec.Command("/bin/sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	_ = cmd.Wait()
	ok, _ := HostProbe{}.Exists(pid)
	assert.False(t, ok)
}
