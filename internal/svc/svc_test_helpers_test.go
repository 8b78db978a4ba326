package svc

import (
	"sync"

	"github.com/amdpsp/pspemu/internal/cpucore"
	"github.com/amdpsp/pspemu/internal/iomgr"
)

// fakeClient is a scriptable proxy.Client stand-in: SvcCall returns
// whatever nextResult holds and records every call it was given, and
// MemRead/MemWrite operate against a plain byte map keyed by PSP
// address so tests can assert on exactly what a handler fetched or
// wrote back.
type fakeClient struct {
	mu sync.Mutex

	nextResult uint32
	nextErr    error
	calls      []fakeCall

	mem map[uint32]byte
}

type fakeCall struct {
	idx            uint32
	a0, a1, a2, a3 uint32
}

func newFakeClient() *fakeClient {
	return &fakeClient{mem: make(map[uint32]byte)}
}

func (f *fakeClient) SvcCall(idx uint32, a0, a1, a2, a3 uint32) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fakeCall{idx, a0, a1, a2, a3})
	return f.nextResult, f.nextErr
}

func (f *fakeClient) MemRead(addr uint32, buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range buf {
		buf[i] = f.mem[addr+uint32(i)]
	}
	return nil
}

func (f *fakeClient) MemWrite(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, b := range data {
		f.mem[addr+uint32(i)] = b
	}
	return nil
}

func newTestState(mode cpucore.Mode, client *fakeClient) (*State, *cpucore.Core) {
	core, err := cpucore.Create(mode, nil)
	if err != nil {
		panic(err)
	}
	iom := iomgr.New()
	return New(core, iom, client), core
}
