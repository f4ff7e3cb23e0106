package trust

import (
	"sync"
	"testing"
	"time"
)

func TestKeyMutexExclusion(t *testing.T) {
	km := newKeyMutex()
	key := Key{UserID: "user-1", ActionType: "crm.note_add"}

	unlock := km.Lock(key)

	acquired := make(chan struct{})
	go func() {
		u := km.Lock(key)
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired the lock while the first still held it")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second holder never acquired the lock after release")
	}
}

func TestKeyMutexIndependentKeys(t *testing.T) {
	km := newKeyMutex()

	unlock := km.Lock(Key{UserID: "user-1", ActionType: "crm.note_add"})
	defer unlock()

	acquired := make(chan struct{})
	go func() {
		u := km.Lock(Key{UserID: "user-2", ActionType: "crm.note_add"})
		close(acquired)
		u()
	}()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("a different key must not block")
	}
}

func TestKeyMutexSerializesCounter(t *testing.T) {
	km := newKeyMutex()
	key := Key{UserID: "user-1", ActionType: "crm.note_add"}

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("expected 50 serialized increments, got %d", counter)
	}
}

func TestKeyMutexReleasesEntries(t *testing.T) {
	km := newKeyMutex()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		key := Key{UserID: "user-1", ActionType: "crm.note_add"}
		if i%2 == 0 {
			key.UserID = "user-2"
		}
		wg.Add(1)
		go func(k Key) {
			defer wg.Done()
			unlock := km.Lock(k)
			defer unlock()
		}(key)
	}
	wg.Wait()

	km.mu.Lock()
	defer km.mu.Unlock()
	if len(km.locks) != 0 {
		t.Errorf("expected the lock map to drain, %d entries remain", len(km.locks))
	}
}
