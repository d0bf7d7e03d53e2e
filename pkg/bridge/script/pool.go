package script

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
)

// PoolConfig defines the sizing of the VM pool
type PoolConfig struct {
	// MinSize is how many VMs are created up front
	MinSize int

	// MaxSize bounds the number of live VMs
	MaxSize int

	// MaxReuseCount retires a VM after this many evaluations
	MaxReuseCount int
}

// DefaultPoolConfig returns the default pool sizing
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:       2,
		MaxSize:       16,
		MaxReuseCount: 500,
	}
}

// VMPool manages reusable sandboxed JavaScript VMs. Script resolutions for
// concurrent render sessions share the pool; VM state never leaks between
// evaluations because every release resets the VM's globals.
type VMPool struct {
	pool          chan *pooledVM
	maxReuseCount int
	currentSize   int32
	maxSize       int
	mu            sync.Mutex
	closed        bool
}

type pooledVM struct {
	// mu guards vm against the interrupt watcher racing teardown
	mu         sync.RWMutex
	vm         *goja.Runtime
	reuseCount int
}

// NewVMPool creates a pool with cfg sizing and pre-creates MinSize VMs
func NewVMPool(cfg PoolConfig) (*VMPool, error) {
	def := DefaultPoolConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}
	if cfg.MinSize < 0 {
		cfg.MinSize = 0
	}
	if cfg.MinSize > cfg.MaxSize {
		cfg.MinSize = cfg.MaxSize
	}
	if cfg.MaxReuseCount <= 0 {
		cfg.MaxReuseCount = def.MaxReuseCount
	}

	p := &VMPool{
		pool:          make(chan *pooledVM, cfg.MaxSize),
		maxReuseCount: cfg.MaxReuseCount,
		maxSize:       cfg.MaxSize,
	}
	for i := 0; i < cfg.MinSize; i++ {
		vm, err := p.createVM()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to create initial VM: %w", err)
		}
		p.pool <- vm
	}
	return p, nil
}

// acquire gets a VM from the pool or creates one, waiting when the pool is
// at capacity with every VM checked out.
func (p *VMPool) acquire(ctx context.Context) (*pooledVM, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("pool is closed")
	}
	p.mu.Unlock()

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		return p.refresh(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if int(atomic.LoadInt32(&p.currentSize)) < p.maxSize {
		return p.createVM()
	}

	select {
	case vm, ok := <-p.pool:
		if !ok {
			return nil, fmt.Errorf("pool is closed")
		}
		return p.refresh(vm)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh retires a VM past its reuse budget and replaces it
func (p *VMPool) refresh(vm *pooledVM) (*pooledVM, error) {
	vm.reuseCount++
	if vm.reuseCount >= p.maxReuseCount {
		p.destroyVM(vm)
		return p.createVM()
	}
	return vm, nil
}

// release resets a VM and returns it to the pool
func (p *VMPool) release(vm *pooledVM) {
	// An interrupted evaluation leaves the interrupt flag set; clear it so
	// the reset script can run
	vm.vm.ClearInterrupt()
	reset := resetGlobals(vm.vm)

	// The send happens under the mutex so Close cannot close the channel
	// between the closed check and the send.
	p.mu.Lock()
	if p.closed || reset != nil {
		p.mu.Unlock()
		p.destroyVM(vm)
		return
	}
	select {
	case p.pool <- vm:
		p.mu.Unlock()
	default:
		// Pool is full; drop this VM
		p.mu.Unlock()
		p.destroyVM(vm)
	}
}

func (p *VMPool) createVM() (*pooledVM, error) {
	vm := goja.New()
	// Map struct fields through their json tags so script properties like
	// `state` and `markup` export into tagged Go structs.
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := applySandbox(vm); err != nil {
		return nil, fmt.Errorf("failed to sandbox VM: %w", err)
	}
	atomic.AddInt32(&p.currentSize, 1)
	return &pooledVM{vm: vm}, nil
}

func (p *VMPool) destroyVM(vm *pooledVM) {
	if vm == nil {
		return
	}
	vm.mu.Lock()
	vm.vm = nil
	vm.mu.Unlock()
	atomic.AddInt32(&p.currentSize, -1)
}

// Close destroys all pooled VMs; in-flight evaluations finish but their VMs
// are dropped on release.
func (p *VMPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.pool)
	for vm := range p.pool {
		p.destroyVM(vm)
	}
}

// Size returns the current number of live VMs
func (p *VMPool) Size() int {
	return int(atomic.LoadInt32(&p.currentSize))
}
