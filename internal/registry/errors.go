package registry

import (
	"github.com/pkg/errors"
)

// ErrDeviceNotFound is returned by GetDevice / GetTwin when the registry
// holds no record for the requested DevEUI.
var ErrDeviceNotFound = errors.New("device not found in registry")
