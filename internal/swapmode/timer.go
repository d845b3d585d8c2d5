package swapmode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/scythe504/gameswap-backend/internal/utils"
)

var timerConfigPattern = regexp.MustCompile(`^[0-9]+\|[0-9]+$`)

// TimerSwapMode fires a single trigger at a uniformly random interval drawn
// from [min,max] seconds, then reschedules itself.
type TimerSwapMode struct {
	mu      sync.Mutex
	sink    Sink
	timer   *time.Timer
	min     int
	max     int
	stopped bool
}

// NewTimerSwapMode parses a "<min>|<max>" config (seconds) and starts the
// timer immediately.
func NewTimerSwapMode(config string) (*TimerSwapMode, error) {
	if !timerConfigPattern.MatchString(config) {
		return nil, fmt.Errorf("invalid timer swap mode config %q: format must be '<min>|<max>', e.g. '3|10'", config)
	}
	parts := strings.SplitN(config, "|", 2)
	min, _ := strconv.Atoi(parts[0])
	max, _ := strconv.Atoi(parts[1])
	if min < 1 || max < min {
		return nil, fmt.Errorf("invalid timer swap mode config %q: need 1 <= min <= max", config)
	}

	t := &TimerSwapMode{min: min, max: max}
	t.schedule()
	return t, nil
}

func (t *TimerSwapMode) Bind(sink Sink) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = sink
}

func (t *TimerSwapMode) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *TimerSwapMode) schedule() {
	delay := time.Duration(utils.RandomIntInRange(t.min, t.max)) * time.Second
	t.timer = time.AfterFunc(delay, t.fire)
}

func (t *TimerSwapMode) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	sink := t.sink
	t.schedule()
	t.mu.Unlock()

	// Fired before anything was bound; the reschedule above keeps us alive.
	if sink == nil {
		return
	}
	sink([]string{"Timer Swap Event"})
}
