//go:build windows

package deploy

import (
	"os/exec"

	"github.com/pkg/errors"
)

var junctionStrategy = Strategy{Name: "junction", Link: linkJunction}

func platformStrategies() []Strategy {
	return []Strategy{symlinkStrategy, junctionStrategy, copyStrategy}
}

// linkJunction needs no privilege, unlike symlinks without developer mode.
func linkJunction(src, dst string) error {
	out, err := exec.Command("cmd", "/c", "mklink", "/J", dst, src).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "mklink /J failed: %s", string(out))
	}
	return nil
}
