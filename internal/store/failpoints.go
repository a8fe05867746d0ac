package store

import (
	"errors"
	"sync"
)

// Callback mutation stages at which a fault can be injected.
const (
	StageAfterStatus          = "after_status"
	StageAfterManifest        = "after_manifest"
	StageAfterFailureMetadata = "after_failure_metadata"
	StageAfterCallbackEvent   = "after_callback_event"
)

// FailPoints injects one-shot faults into ApplyCallbackMutation. It is used
// by tests and fault drills to prove the mutation is all-or-nothing.
// A nil *FailPoints never fires.
type FailPoints struct {
	mu    sync.Mutex
	armed map[string]armedFault
}

type armedFault struct {
	stage   string
	message string
}

func NewFailPoints() *FailPoints {
	return &FailPoints{armed: make(map[string]armedFault)}
}

// Inject arms a fault for eventID at stage. It replaces any fault already
// armed for the same event.
func (f *FailPoints) Inject(eventID, stage, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[eventID] = armedFault{stage: stage, message: message}
}

// Check fires and disarms the fault armed for eventID at stage, if any.
// The fault stays disarmed even though the surrounding mutation rolls back.
func (f *FailPoints) Check(eventID, stage string) error {
	if f == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	fault, ok := f.armed[eventID]
	if !ok || fault.stage != stage {
		return nil
	}
	delete(f.armed, eventID)
	return errors.New(fault.message)
}
