package limiter

// Slots caps how many builds run at once in this process. A build that
// cannot get a slot is rejected rather than queued.
type Slots struct {
    sem chan struct{}
}

// New returns n slots; n <= 0 means 1.
func New(n int) *Slots {
    if n <= 0 { n = 1 }
    return &Slots{sem: make(chan struct{}, n)}
}

// Allow tries to reserve a slot.
// Returns a release function and true if allowed; otherwise a no-op release and false.
func (s *Slots) Allow() (func(), bool) {
    select {
    case s.sem <- struct{}{}:
        return func() { <-s.sem }, true
    default:
        return func(){}, false
    }
}

// InUse reports how many slots are held.
func (s *Slots) InUse() int { return len(s.sem) }

// Cap reports the total number of slots.
func (s *Slots) Cap() int { return cap(s.sem) }
