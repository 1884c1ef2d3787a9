//go:build !unix

package proc

import (
	"fmt"
	"os/exec"
)

func applyCredential(cmd *exec.Cmd, userName, groupName string) error {
	if userName != "" || groupName != "" {
		return fmt.Errorf("run-as user/group is not supported on this platform")
	}
	return nil
}
