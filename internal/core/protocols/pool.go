package protocols

import "sync"

// Pool recycles IP views, including the views of quoted packets, so that
// steady-state translation does not allocate.
type Pool struct {
	p sync.Pool
}

func NewPool() *Pool {
	return &Pool{p: sync.Pool{New: func() any { return new(IP) }}}
}

// Get returns an unbound view; bind it with Reset.
func (p *Pool) Get() *IP {
	return p.p.Get().(*IP)
}

// Put releases ip. It drops all references to the packet buffer.
func (p *Pool) Put(ip *IP) {
	if ip == nil {
		return
	}
	ip.release()
	p.p.Put(ip)
}

func (ip *IP) release() {
	if e := ip.icmpErr.embedded; e != nil {
		e.clear()
	}
	ip.clear()
}
