package exectest

import (
	"os/exec"
	"testing"
)

func TestBackground(t *testing.T) {
	cmd := exec.Command("echo", "hello")
	bg := NewBackground(t, cmd)
	defer bg.Close()
	bg.Name = "echo"
	bg.LogStdout = true
	bg.Start()
	<-bg.Done()
}
