package deploy

import (
	"os"

	"github.com/jingkaihe/skillc/pkg/fsutil"
	"github.com/pkg/errors"
)

// Strategy materialises src at dst. dst does not exist when Link is called.
type Strategy struct {
	Name string
	Link func(src, dst string) error
}

var (
	symlinkStrategy = Strategy{Name: "symlink", Link: linkSymlink}
	copyStrategy    = Strategy{Name: "copy", Link: linkCopy}
)

// Strategies returns the strategies to try in order.
func Strategies(forceCopy bool) []Strategy {
	if forceCopy {
		return []Strategy{copyStrategy}
	}
	return platformStrategies()
}

func linkSymlink(src, dst string) error {
	return errors.Wrap(os.Symlink(src, dst), "symlink failed")
}

func linkCopy(src, dst string) error {
	return errors.Wrap(fsutil.CopyDir(src, dst, fsutil.CopyOptions{FollowSymlinks: true}), "copy failed")
}
