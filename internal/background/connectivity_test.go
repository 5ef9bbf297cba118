package background

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/runnerr0/procedura/internal/log"
	"github.com/stretchr/testify/assert"
)

type flakyPinger struct {
	mu      sync.Mutex
	results []error
}

func (p *flakyPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.results) == 0 {
		return nil
	}
	err := p.results[0]
	p.results = p.results[1:]
	return err
}

type transitions struct {
	mu  sync.Mutex
	got []bool
}

func (t *transitions) SetOnline(_ context.Context, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, online)
}

func (t *transitions) list() []bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]bool(nil), t.got...)
}

func TestWatchConnectivity_ReportsTransitionsOnly(t *testing.T) {
	down := errors.New("dial tcp: connection refused")
	p := &flakyPinger{results: []error{nil, down, down, nil, nil}}
	tr := &transitions{}

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan struct{})
	go func() {
		WatchConnectivity(ctx, p, tr, 5*time.Millisecond, log.Discard())
		close(done)
	}()

	assert.Eventually(t, func() bool { return len(tr.list()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, []bool{false, true}, tr.list())
}
