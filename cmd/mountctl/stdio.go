package main

import (
	"os"
)

// stdioPort exposes the wire protocol on stdin/stdout for simulated
// runs. A reader goroutine pumps stdin into a channel so the control
// loop's polls never block.
type stdioPort struct {
	in   chan byte
	done chan struct{}
}

func newStdioPort() *stdioPort {
	p := &stdioPort{
		in:   make(chan byte, 4096),
		done: make(chan struct{}),
	}
	go p.pump()
	return p
}

func (p *stdioPort) pump() {
	buf := make([]byte, 256)
	for {
		n, err := os.Stdin.Read(buf)
		for _, b := range buf[:n] {
			select {
			case p.in <- b:
			case <-p.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *stdioPort) Read(b []byte) (int, error) {
	n := 0
	for n < len(b) {
		select {
		case c := <-p.in:
			b[n] = c
			n++
		default:
			return n, nil
		}
	}
	return n, nil
}

func (p *stdioPort) Write(b []byte) (int, error) {
	return os.Stdout.Write(b)
}

func (p *stdioPort) Close() error {
	close(p.done)
	return nil
}

// InputWaiting reports buffered stdin bytes, so writes yield to reads.
func (p *stdioPort) InputWaiting() bool {
	return len(p.in) > 0
}
