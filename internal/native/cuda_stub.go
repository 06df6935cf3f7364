//go:build !cuda

package native

import "errors"

const cudaBuilt = false

// NewCUDA reports that the CUDA driver is not compiled in. Build with the
// cuda tag to enable it.
func NewCUDA() (Driver, error) {
	return nil, errors.New("cuda driver not available in this build")
}
