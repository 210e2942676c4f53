package cli

import (
	"fmt"
	"io"
	"sync"

	"gallerio/internal/nav"
)

// terminalNavigator turns navigation requests into hints and lets commands wait for them.
type terminalNavigator struct {
	mu     sync.Mutex
	out    io.Writer
	routes chan string
}

func newTerminalNavigator(out io.Writer) *terminalNavigator {
	return &terminalNavigator{out: out, routes: make(chan string, 8)}
}

func (n *terminalNavigator) Navigate(route string) {
	n.mu.Lock()
	switch route {
	case nav.Login:
		fmt.Fprintln(n.out, "Your session has ended. Run 'gallerio login' to sign in again.")
	case nav.Orders:
		fmt.Fprintln(n.out, "Run 'gallerio orders' to follow your order.")
	}
	n.mu.Unlock()
	select {
	case n.routes <- route:
	default:
	}
}

// C receives every route navigated to.
func (n *terminalNavigator) C() <-chan string { return n.routes }
