package lifecycle

import (
	"sync"
	"testing"
)

func TestKeyLock_Serializes(t *testing.T) {
	kl := newKeyLock()
	var wg sync.WaitGroup
	counter := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := kl.Lock("file-1")
			defer unlock()
			v := counter
			counter = v + 1
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("counter = %d, want 50", counter)
	}
	if n := kl.size(); n != 0 {
		t.Errorf("size() = %d after all unlocks, want 0", n)
	}
}

func TestKeyLock_IndependentKeys(t *testing.T) {
	kl := newKeyLock()
	unlockA := kl.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := kl.Lock("b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
