package fs

import (
	"errors"
	iofs "io/fs"
	"sync"
)

// injectedPathErrors records the errors produced by [Chaos]. The values are
// plain *fs.PathError so os.IsNotExist and friends keep working, which means
// identity is the only way to recognise them.
var injectedPathErrors sync.Map // map[*fs.PathError]struct{}

// IsInjected reports whether err (or any error it wraps) was injected by
// [Chaos]. Returns false for nil and for real OS errors.
func IsInjected(err error) bool {
	var pathErr *iofs.PathError
	if !errors.As(err, &pathErr) {
		return false
	}

	_, ok := injectedPathErrors.Load(pathErr)

	return ok
}

func markInjectedPathError(err *iofs.PathError) {
	injectedPathErrors.Store(err, struct{}{})
}
