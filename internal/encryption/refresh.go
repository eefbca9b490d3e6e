package encryption

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tink-crypto/tink-go/v2/tink"
)

// DefaultRefreshInterval is how often the keyset file is re-read.
const DefaultRefreshInterval = 15 * time.Minute

type aeadLoader func() (tink.AEAD, error)

// RefreshableAEAD wraps a tink.AEAD loaded from a keyset file, re-reading the
// file periodically so a rotated keyset is picked up without a restart. A
// failed reload is logged and the existing keyset stays in use.
type RefreshableAEAD struct {
	mu     sync.RWMutex
	aead   tink.AEAD
	loader aeadLoader
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewRefreshableAEAD loads and validates keysetFile, then starts the reload
// goroutine. Call Close to stop it.
func NewRefreshableAEAD(keysetFile string, interval time.Duration) (*RefreshableAEAD, error) {
	loader := func() (tink.AEAD, error) {
		primitive, err := LoadKeysetFile(keysetFile)
		if err != nil {
			return nil, err
		}
		if err := Validate(primitive); err != nil {
			return nil, err
		}
		return primitive, nil
	}

	return newRefreshableAEAD(loader, interval)
}

func newRefreshableAEAD(loader aeadLoader, interval time.Duration) (*RefreshableAEAD, error) {
	initial, err := loader()
	if err != nil {
		return nil, err
	}

	r := &RefreshableAEAD{
		aead:   initial,
		loader: loader,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	go r.refreshLoop(interval)

	return r, nil
}

func (r *RefreshableAEAD) Encrypt(plaintext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Encrypt(plaintext, associatedData)
}

func (r *RefreshableAEAD) Decrypt(ciphertext, associatedData []byte) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.aead.Decrypt(ciphertext, associatedData)
}

// Close stops the reload goroutine and waits for it to exit.
func (r *RefreshableAEAD) Close() error {
	close(r.stopCh)
	<-r.doneCh
	return nil
}

func (r *RefreshableAEAD) refreshLoop(interval time.Duration) {
	defer close(r.doneCh)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refresh()
		}
	}
}

func (r *RefreshableAEAD) refresh() {
	next, err := r.loader()
	if err != nil {
		log.Warn().Err(err).Msg("keyset reload failed, continuing with current keyset")
		return
	}

	r.mu.Lock()
	r.aead = next
	r.mu.Unlock()

	log.Debug().Msg("keyset reloaded")
}
