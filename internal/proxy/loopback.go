package proxy

import (
	"sync"

	"github.com/amdpsp/pspemu/internal/logging"
	"github.com/amdpsp/pspemu/internal/metrics"
)

var log = logging.For("proxy")

// loopbackWindowBase is the first PSP-side address Loopback hands out
// for an x86 mapping request, matching spec's "typically at
// >=0x04000000 in 4 KiB slots" for dynamically mapped x86 windows.
const loopbackWindowBase = 0x04000000

// loopbackWindowStride is one 64 MiB x86-mapping region, the
// granularity a real x86 mapping slot is allocated in.
const loopbackWindowStride = 64 * 1024 * 1024

// Loopback is a deterministic in-memory stand-in for a real hardware
// PSP reached over the wire: no actual transport, just enough state to
// let the SVC layer's forwarding paths round-trip in tests and in
// System-mode runs with nothing attached. It does not model real
// syscall semantics beyond handing out a fresh PSP-side address per
// call and servicing memory reads/writes against a sparse, lazily
// populated store keyed by page.
type Loopback struct {
	mu         sync.Mutex
	pages      map[uint32][]byte
	nextWindow uint32
}

const loopbackPageSize = 4096

// NewLoopback returns a Loopback with its x86-window allocator primed
// at loopbackWindowBase.
func NewLoopback() *Loopback {
	return &Loopback{
		pages:      make(map[uint32][]byte),
		nextWindow: loopbackWindowBase,
	}
}

// SvcCall hands back a fresh PSP-side address advancing by one
// mapping-region stride on every call; callers that don't need an
// address (smn_unmap, dbg_log, ...) simply ignore the result.
func (l *Loopback) SvcCall(idx uint32, a0, a1, a2, a3 uint32) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	metrics.ProxyRoundTrips.WithLabelValues("svc_call").Inc()
	log.WithField("svc", idx).WithField("a0", a0).WithField("a1", a1).Trace("loopback svc call")

	addr := l.nextWindow
	l.nextWindow += loopbackWindowStride
	return addr, nil
}

// MemRead services a read against the sparse page store. Unpopulated
// pages read back as zero, matching a freshly mapped x86 region that
// has never been touched.
func (l *Loopback) MemRead(addr uint32, buf []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	metrics.ProxyRoundTrips.WithLabelValues("mem_read").Inc()
	l.copyFromPages(addr, buf)
	return nil
}

// MemWrite services a write against the sparse page store, allocating
// pages on first touch.
func (l *Loopback) MemWrite(addr uint32, data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	metrics.ProxyRoundTrips.WithLabelValues("mem_write").Inc()
	l.copyToPages(addr, data)
	return nil
}

func (l *Loopback) copyFromPages(addr uint32, buf []byte) {
	for len(buf) > 0 {
		page := addr &^ (loopbackPageSize - 1)
		off := addr - page
		n := loopbackPageSize - int(off)
		if n > len(buf) {
			n = len(buf)
		}
		if p, ok := l.pages[page]; ok {
			copy(buf[:n], p[off:])
		}
		buf = buf[n:]
		addr += uint32(n)
	}
}

func (l *Loopback) copyToPages(addr uint32, data []byte) {
	for len(data) > 0 {
		page := addr &^ (loopbackPageSize - 1)
		off := addr - page
		n := loopbackPageSize - int(off)
		if n > len(data) {
			n = len(data)
		}
		p, ok := l.pages[page]
		if !ok {
			p = make([]byte, loopbackPageSize)
			l.pages[page] = p
		}
		copy(p[off:], data[:n])
		data = data[n:]
		addr += uint32(n)
	}
}
