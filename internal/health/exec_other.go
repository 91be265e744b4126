//go:build !unix

package health

import "errors"

func execSelf(exe string, args, env []string) error {
	return errors.New("exec restart is not supported on this OS")
}
