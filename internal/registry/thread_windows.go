//go:build windows

package registry

import (
	"errors"
	"fmt"

	ole "github.com/go-ole/go-ole"
)

// Returned by CoInitializeEx when COM was already initialized on the thread.
const sFalse = 1

func threadInit() error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		var oleErr *ole.OleError
		if errors.As(err, &oleErr) && oleErr.Code() == sFalse {
			return nil
		}
		return fmt.Errorf("call CoInitializeEx: %w", err)
	}
	return nil
}

func threadUninit() {
	ole.CoUninitialize()
}
