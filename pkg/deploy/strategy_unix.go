//go:build !windows

package deploy

func platformStrategies() []Strategy {
	return []Strategy{symlinkStrategy, copyStrategy}
}
