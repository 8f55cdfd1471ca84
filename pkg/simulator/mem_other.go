//go:build !unix

package simulator

func mapRing(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
