// Package simulator provides a software frame grabber implementing
// acquire.Driver. Ring buffers live in memory mapped outside the Go heap,
// frames land on a ticker or on Emit, and the frame-done signal is raised
// from the grabber's own goroutine like a hardware interrupt handler.
package simulator

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
)

var (
	ErrUnknownInterface = errors.New("unknown interface")
	ErrUnknownSession   = errors.New("unknown session")
	ErrNotReady         = errors.New("camera not ready")
	ErrNoRing           = errors.New("ring not configured")
	ErrStopped          = errors.New("acquisition stopped")
	ErrOverwritten      = errors.New("buffer overwritten")
	ErrBufferHeld       = errors.New("a buffer is already examined")
)

// FillFunc writes the pixels of frame number into a ring slot whose rows
// are stride bytes apart.
type FillFunc func(number uint32, slot []byte, stride int)

// Config describes the simulated camera.
type Config struct {
	Width         int `yaml:"width"`
	Height        int `yaml:"height"`
	BytesPerPixel int `yaml:"bytes_per_pixel"`
	BitsPerPixel  int `yaml:"bits_per_pixel"`
	// RowStride is the native bytes per row. Defaults to Width*BytesPerPixel.
	RowStride int `yaml:"row_stride"`
	// Interval between frames. Zero lands frames only on Emit.
	Interval time.Duration `yaml:"interval"`
	// StartFailures is how many start requests report "not ready" before
	// acquisition starts.
	StartFailures int `yaml:"start_failures"`

	Fill   FillFunc     `yaml:"-"`
	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig is a 640x480 8-bit camera at 30 fps.
func DefaultConfig() Config {
	return Config{
		Width:         640,
		Height:        480,
		BytesPerPixel: 1,
		BitsPerPixel:  8,
		Interval:      acquire.DefaultFrameInterval,
	}
}

func (c *Config) setDefaults() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.BytesPerPixel <= 0 {
		c.BytesPerPixel = 1
	}
	if c.BitsPerPixel <= 0 {
		c.BitsPerPixel = c.BytesPerPixel * 8
	}
	if c.RowStride == 0 {
		c.RowStride = c.Width * c.BytesPerPixel
	}
	if c.RowStride < c.Width*c.BytesPerPixel {
		return fmt.Errorf("row stride %d shorter than a row of %d bytes", c.RowStride, c.Width*c.BytesPerPixel)
	}
	if c.Fill == nil {
		c.Fill = Pattern(c.Width * c.BytesPerPixel)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Pattern returns a FillFunc writing byte(number+row+column) into the
// first rowBytes of each row and 0xEE into row padding.
func Pattern(rowBytes int) FillFunc {
	return func(number uint32, slot []byte, stride int) {
		for r := 0; r*stride < len(slot); r++ {
			row := slot[r*stride : min((r+1)*stride, len(slot))]
			for x := range row {
				if x < rowBytes {
					row[x] = byte(int(number) + r + x)
				} else {
					row[x] = 0xEE
				}
			}
		}
	}
}

// Grabber is a simulated frame-grabber board.
type Grabber struct {
	cfg Config
	log *slog.Logger

	mu            sync.Mutex
	interfaces    map[acquire.InterfaceID]string
	sessions      map[acquire.SessionID]*session
	nextID        uint32
	startFailures int
}

// New returns a grabber for cfg.
func New(cfg Config) (*Grabber, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, fmt.Errorf("simulator config: %w", err)
	}
	return &Grabber{
		cfg:           cfg,
		log:           cfg.Logger.With("component", "simulator"),
		interfaces:    make(map[acquire.InterfaceID]string),
		sessions:      make(map[acquire.SessionID]*session),
		startFailures: cfg.StartFailures,
	}, nil
}

// session is one acquisition on the grabber. Its fields are guarded by the
// session's own mutex; cond is signalled whenever a frame lands, a buffer
// is released or acquisition stops.
type session struct {
	g   *Grabber
	iid acquire.InterfaceID

	mu      sync.Mutex
	cond    *sync.Cond
	mem     []byte
	unmap   func() error
	slots   [][]byte
	numbers []uint32 // buffer number held by each slot
	landed  uint32   // number of frames landed so far
	held    int      // examined slot, or -1
	running bool
	closed  bool
	signals acquire.Signals

	// disarmed signals are not raised again
	doneOff, startOff, stopOff bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func (g *Grabber) slotSize() int {
	return g.cfg.RowStride * g.cfg.Height
}

func (g *Grabber) OpenInterface(name string) (acquire.InterfaceID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nextID++
	iid := acquire.InterfaceID(g.nextID)
	g.interfaces[iid] = name
	g.log.Debug("interface opened", "name", name, "interface", iid)
	return iid, nil
}

func (g *Grabber) OpenSession(iid acquire.InterfaceID) (acquire.SessionID, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.interfaces[iid]; !ok {
		return 0, fmt.Errorf("interface %d: %w", iid, ErrUnknownInterface)
	}
	g.nextID++
	sid := acquire.SessionID(g.nextID)
	s := &session{g: g, iid: iid, held: -1}
	s.cond = sync.NewCond(&s.mu)
	g.sessions[sid] = s
	return sid, nil
}

func (g *Grabber) Attributes(iid acquire.InterfaceID) (acquire.Attributes, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.interfaces[iid]; !ok {
		return acquire.Attributes{}, fmt.Errorf("interface %d: %w", iid, ErrUnknownInterface)
	}
	return acquire.Attributes{
		Width:         g.cfg.Width,
		Height:        g.cfg.Height,
		BitsPerPixel:  g.cfg.BitsPerPixel,
		BytesPerPixel: g.cfg.BytesPerPixel,
		RowStride:     g.cfg.RowStride,
	}, nil
}

// DisablePhysMemLimit does nothing: mapped memory has no address limit.
func (g *Grabber) DisablePhysMemLimit(sid acquire.SessionID) error {
	_, err := g.session(sid)
	return err
}

func (g *Grabber) SetupRing(sid acquire.SessionID, count int) error {
	s, err := g.session(sid)
	if err != nil {
		return err
	}
	if count < 1 {
		return fmt.Errorf("ring of %d buffers", count)
	}

	size := g.slotSize()
	mem, unmap, err := mapRing(size * count)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			g.log.Warn("failed to unmap previous ring", "error", err)
		}
	}
	s.mem, s.unmap = mem, unmap
	s.slots = make([][]byte, count)
	for i := range s.slots {
		s.slots[i] = mem[i*size : (i+1)*size : (i+1)*size]
	}
	s.numbers = make([]uint32, count)
	s.landed = 0
	g.log.Debug("ring created", "session", sid, "buffers", count, "bytes", size*count)
	return nil
}

func (g *Grabber) RegisterSignals(sid acquire.SessionID, sig acquire.Signals) error {
	s, err := g.session(sid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.signals = sig
	s.doneOff, s.startOff, s.stopOff = false, false, false
	s.mu.Unlock()
	return nil
}

func (g *Grabber) StartAcquisition(sid acquire.SessionID) error {
	s, err := g.session(sid)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if g.startFailures > 0 {
		g.startFailures--
		g.mu.Unlock()
		return ErrNotReady
	}
	g.mu.Unlock()

	s.mu.Lock()
	if s.slots == nil {
		s.mu.Unlock()
		return ErrNoRing
	}
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	if g.cfg.Interval > 0 {
		s.stop = make(chan struct{})
		s.wg.Add(1)
		go s.tick(g.cfg.Interval, s.stop)
	}
	s.mu.Unlock()

	g.log.Debug("acquisition started", "session", sid)
	s.raise(func(sig acquire.Signals) (func() bool, *bool) { return sig.AcquisitionStarted, &s.startOff })
	return nil
}

func (g *Grabber) StopAcquisition(sid acquire.SessionID) error {
	s, err := g.session(sid)
	if err != nil {
		return err
	}
	if !s.halt() {
		return nil
	}
	g.log.Debug("acquisition stopped", "session", sid)
	s.raise(func(sig acquire.Signals) (func() bool, *bool) { return sig.AcquisitionDone, &s.stopOff })
	return nil
}

// halt stops the ticker and wakes blocked copies. It reports whether
// acquisition was running.
func (s *session) halt() bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return false
	}
	s.running = false
	stop := s.stop
	s.stop = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if stop != nil {
		close(stop)
		s.wg.Wait()
	}
	return true
}

func (s *session) tick(interval time.Duration, stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.land(true)
		}
	}
}

// land writes the next frame into its slot. A slot that is currently
// examined stalls the ring and the frame is not produced. The frame-done
// signal is raised after the session lock is released.
func (s *session) land(signal bool) bool {
	s.mu.Lock()
	if !s.running || s.closed {
		s.mu.Unlock()
		return false
	}
	n := s.landed
	slot := int(n % uint32(len(s.slots)))
	if slot == s.held {
		s.mu.Unlock()
		s.g.log.Debug("ring stalled on examined buffer", "slot", slot)
		return false
	}
	s.g.cfg.Fill(n, s.slots[slot], s.g.cfg.RowStride)
	s.numbers[slot] = n
	s.landed++
	s.cond.Broadcast()
	s.mu.Unlock()

	if signal {
		s.raise(func(sig acquire.Signals) (func() bool, *bool) { return sig.FrameDone, &s.doneOff })
	}
	return true
}

// raise invokes a registered signal outside the session lock and disarms it
// when the handler asks not to be called again.
func (s *session) raise(pick func(acquire.Signals) (func() bool, *bool)) {
	s.mu.Lock()
	fn, off := pick(s.signals)
	if fn == nil || *off {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if !fn() {
		s.mu.Lock()
		*off = true
		s.mu.Unlock()
	}
}

// Emit lands one frame in every running session and raises frame-done.
// It returns the number of sessions that received a frame.
func (g *Grabber) Emit() int {
	return g.emit(true)
}

// EmitUnsignalled lands one frame without raising frame-done, as when an
// interrupt is lost.
func (g *Grabber) EmitUnsignalled() int {
	return g.emit(false)
}

func (g *Grabber) emit(signal bool) int {
	g.mu.Lock()
	sessions := make([]*session, 0, len(g.sessions))
	for _, s := range g.sessions {
		sessions = append(sessions, s)
	}
	g.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if s.land(signal) {
			n++
		}
	}
	return n
}

// resolve waits until number has landed and maps it to a slot. Called
// with s.mu held.
func (s *session) resolve(number uint32, mode acquire.OverwriteMode) (uint32, int, error) {
	for {
		if s.closed {
			return 0, 0, acquire.ErrClosed
		}
		if s.slots == nil {
			return 0, 0, ErrNoRing
		}
		if s.landed > 0 && int32(number-(s.landed-1)) <= 0 {
			break
		}
		if !s.running {
			return 0, 0, fmt.Errorf("buffer %d: %w", number, ErrStopped)
		}
		s.cond.Wait()
	}

	count := uint32(len(s.slots))
	var oldest uint32
	if s.landed > count {
		oldest = s.landed - count
	}
	if int32(number-oldest) < 0 {
		if mode == acquire.OverwriteFail {
			return 0, 0, fmt.Errorf("buffer %d: %w", number, ErrOverwritten)
		}
		number = oldest
	}
	return number, int(number % count), nil
}

func (g *Grabber) CopyBuffer(sid acquire.SessionID, number uint32, dst []byte, mode acquire.OverwriteMode) (uint32, int, error) {
	s, err := g.session(sid)
	if err != nil {
		return 0, 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	copied, slot, err := s.resolve(number, mode)
	if err != nil {
		return 0, 0, err
	}
	copy(dst, s.slots[slot])
	return copied, slot, nil
}

// CopyArea copies a sub-rectangle of a buffer into rows of rowPixels
// pixels. Destination padding is left untouched.
func (g *Grabber) CopyArea(sid acquire.SessionID, number uint32, top, left, height, width int, dst []byte, rowPixels int, mode acquire.OverwriteMode) (uint32, int, error) {
	s, err := g.session(sid)
	if err != nil {
		return 0, 0, err
	}
	if top < 0 || left < 0 || top+height > g.cfg.Height || left+width > g.cfg.Width {
		return 0, 0, fmt.Errorf("area %dx%d+%d+%d outside %dx%d frame", width, height, left, top, g.cfg.Width, g.cfg.Height)
	}
	if rowPixels < width {
		return 0, 0, fmt.Errorf("row of %d pixels shorter than area width %d", rowPixels, width)
	}

	bpp := g.cfg.BytesPerPixel
	dstStride := rowPixels * bpp
	if need := dstStride*(height-1) + width*bpp; len(dst) < need {
		return 0, 0, fmt.Errorf("destination holds %d bytes, need %d", len(dst), need)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied, slot, err := s.resolve(number, mode)
	if err != nil {
		return 0, 0, err
	}
	src := s.slots[slot]
	rowBytes := width * bpp
	for r := 0; r < height; r++ {
		off := (top+r)*g.cfg.RowStride + left*bpp
		copy(dst[r*dstStride:r*dstStride+rowBytes], src[off:off+rowBytes])
	}
	return copied, slot, nil
}

// ExamineBuffer hands out the mapped slot itself. The ring does not
// advance into the slot until it is released.
func (g *Grabber) ExamineBuffer(sid acquire.SessionID, number uint32) (uint32, []byte, error) {
	s, err := g.session(sid)
	if err != nil {
		return 0, nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held >= 0 {
		return 0, nil, ErrBufferHeld
	}
	copied, slot, err := s.resolve(number, acquire.OverwriteGetOldest)
	if err != nil {
		return 0, nil, err
	}
	s.held = slot
	return copied, s.slots[slot], nil
}

func (g *Grabber) ReleaseBuffer(sid acquire.SessionID) error {
	s, err := g.session(sid)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.held = -1
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

func (g *Grabber) CloseSession(sid acquire.SessionID) error {
	g.mu.Lock()
	s, ok := g.sessions[sid]
	delete(g.sessions, sid)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %d: %w", sid, ErrUnknownSession)
	}

	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
	if s.held >= 0 {
		g.log.Warn("closing session with an examined buffer", "slot", s.held)
	}
	s.slots = nil
	if s.unmap != nil {
		if err := s.unmap(); err != nil {
			return fmt.Errorf("unmap ring: %w", err)
		}
		s.unmap = nil
	}
	return nil
}

func (g *Grabber) CloseInterface(iid acquire.InterfaceID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.interfaces[iid]; !ok {
		return fmt.Errorf("interface %d: %w", iid, ErrUnknownInterface)
	}
	for sid, s := range g.sessions {
		if s.iid == iid {
			g.log.Warn("closing interface with an open session", "session", sid)
		}
	}
	delete(g.interfaces, iid)
	return nil
}

// Landed returns the number of frames landed in a session so far.
func (g *Grabber) Landed(sid acquire.SessionID) uint32 {
	s, err := g.session(sid)
	if err != nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.landed
}

func (g *Grabber) session(sid acquire.SessionID) (*session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.sessions[sid]
	if !ok {
		return nil, fmt.Errorf("session %d: %w", sid, ErrUnknownSession)
	}
	return s, nil
}

var (
	_ acquire.Driver     = (*Grabber)(nil)
	_ acquire.AreaCopier = (*Grabber)(nil)
)
