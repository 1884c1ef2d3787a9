//go:build unix

package proc

import (
	"fmt"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"
)

// applyCredential configures the command to run as the named user/group.
func applyCredential(cmd *exec.Cmd, userName, groupName string) error {
	if userName == "" && groupName == "" {
		return nil
	}

	cred := &syscall.Credential{}

	if userName != "" {
		u, err := user.Lookup(userName)
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", userName, err)
		}
		uid, err := strconv.ParseUint(u.Uid, 10, 32)
		if err != nil {
			return fmt.Errorf("parse uid %q: %w", u.Uid, err)
		}
		gid, err := strconv.ParseUint(u.Gid, 10, 32)
		if err != nil {
			return fmt.Errorf("parse gid %q: %w", u.Gid, err)
		}
		cred.Uid = uint32(uid)
		cred.Gid = uint32(gid)
	}

	if groupName != "" {
		g, err := user.LookupGroup(groupName)
		if err != nil {
			return fmt.Errorf("lookup group %q: %w", groupName, err)
		}
		gid, err := strconv.ParseUint(g.Gid, 10, 32)
		if err != nil {
			return fmt.Errorf("parse gid %q: %w", g.Gid, err)
		}
		cred.Gid = uint32(gid)
	}

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Credential = cred
	return nil
}
