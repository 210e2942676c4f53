// Package nav carries navigation side effects out of the core components.
package nav

import "sync"

// Routes the core components navigate to.
const (
	Login     = "/login"
	Orders    = "/collector/orders"
	Dashboard = "/collector/gallery"
)

// Navigator receives navigation requests.
type Navigator interface {
	Navigate(route string)
}

// Func adapts a plain function to Navigator.
type Func func(route string)

func (f Func) Navigate(route string) { f(route) }

// Discard ignores navigation.
var Discard Navigator = Func(func(string) {})

// Recorder keeps every route it was asked to navigate to.
type Recorder struct {
	mu     sync.Mutex
	routes []string
	notify chan string
}

// NewRecorder returns a Recorder whose C channel receives each route (buffered).
func NewRecorder() *Recorder {
	return &Recorder{notify: make(chan string, 16)}
}

func (r *Recorder) Navigate(route string) {
	r.mu.Lock()
	r.routes = append(r.routes, route)
	r.mu.Unlock()
	select {
	case r.notify <- route:
	default:
	}
}

// C delivers navigations as they happen.
func (r *Recorder) C() <-chan string { return r.notify }

// Routes returns a copy of the recorded routes.
func (r *Recorder) Routes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.routes))
	copy(out, r.routes)
	return out
}

// Count returns how many times route was requested.
func (r *Recorder) Count(route string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.routes {
		if got == route {
			n++
		}
	}
	return n
}
