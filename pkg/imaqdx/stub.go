//go:build !imaqdx

package imaqdx

import "github.com/video-system/go-frame-grabber/pkg/acquire"

// Driver is a placeholder when IMAQdx support is not compiled in.
type Driver struct{}

// New returns ErrNotAvailable.
func New(opts Options) (*Driver, error) {
	return nil, ErrNotAvailable
}

// Available returns false when IMAQdx support is not compiled in.
func Available() bool { return false }

func (d *Driver) OpenInterface(string) (acquire.InterfaceID, error) { return 0, ErrNotAvailable }

func (d *Driver) OpenSession(acquire.InterfaceID) (acquire.SessionID, error) {
	return 0, ErrNotAvailable
}

func (d *Driver) Attributes(acquire.InterfaceID) (acquire.Attributes, error) {
	return acquire.Attributes{}, ErrNotAvailable
}

func (d *Driver) DisablePhysMemLimit(acquire.SessionID) error { return ErrNotAvailable }
func (d *Driver) SetupRing(acquire.SessionID, int) error { return ErrNotAvailable }
func (d *Driver) RegisterSignals(acquire.SessionID, acquire.Signals) error { return ErrNotAvailable }
func (d *Driver) StartAcquisition(acquire.SessionID) error { return ErrNotAvailable }
func (d *Driver) StopAcquisition(acquire.SessionID) error { return ErrNotAvailable }

func (d *Driver) CopyBuffer(acquire.SessionID, uint32, []byte, acquire.OverwriteMode) (uint32, int, error) {
	return 0, 0, ErrNotAvailable
}

func (d *Driver) ExamineBuffer(acquire.SessionID, uint32) (uint32, []byte, error) {
	return 0, nil, ErrNoExamine
}

func (d *Driver) ReleaseBuffer(acquire.SessionID) error { return nil }
func (d *Driver) CloseSession(acquire.SessionID) error { return ErrNotAvailable }
func (d *Driver) CloseInterface(acquire.InterfaceID) error { return ErrNotAvailable }

// CopyOnly reports that frames are always copied.
func (d *Driver) CopyOnly() bool { return true }

var (
	_ acquire.Driver   = (*Driver)(nil)
	_ acquire.CopyOnly = (*Driver)(nil)
)
