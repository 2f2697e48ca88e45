package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wtsi-hgi/irobot/pkg/precache/model"
)

func TestTryStartFetch_OnlyOneWinner(t *testing.T) {
	h := New("/seq/1/a.bam")
	assert.True(t, h.TryStartFetch(model.DatatypeData))
	assert.False(t, h.TryStartFetch(model.DatatypeData))
}

func TestTryStartFetch_IndependentPerDatatype(t *testing.T) {
	h := New("/seq/1/a.bam")
	assert.True(t, h.TryStartFetch(model.DatatypeData))
	assert.True(t, h.TryStartFetch(model.DatatypeMetadata))
}

func TestWait_WakesOnFinishFetch(t *testing.T) {
	h := New("/seq/1/a.bam")
	h.TryStartFetch(model.DatatypeData)

	wait := h.Wait(model.DatatypeData)
	go func() {
		time.Sleep(5 * time.Millisecond)
		h.FinishFetch(model.DatatypeData)
	}()

	select {
	case <-wait:
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken")
	}
	assert.False(t, h.IsFetching(model.DatatypeData))
}
