package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/wistia-offline-go/internal/domain"
)

func TestObserverRegistry_RegistrationOrder(t *testing.T) {
	r := NewObserverRegistry(nil)
	var order []string

	r.Add(ref("abc123"), func(string, domain.DownloadState, *float64) { order = append(order, "first") })
	r.AddGlobal(func(string, domain.DownloadState, *float64) { order = append(order, "global") })
	r.Add(ref("abc123"), func(string, domain.DownloadState, *float64) { order = append(order, "third") })
	r.Add(ref("other1"), func(string, domain.DownloadState, *float64) { order = append(order, "other") })

	r.Notify(ref("abc123"), domain.Cancelled())
	assert.Equal(t, []string{"first", "global", "third"}, order)
	assert.Equal(t, 3, r.Count(ref("abc123")))
}

func TestObserverRegistry_ProgressOnlyWhileDownloading(t *testing.T) {
	r := NewObserverRegistry(nil)
	rec := &recorder{}
	r.Add(ref("abc123"), rec.observe)

	r.Notify(ref("abc123"), domain.Downloading(0.4))
	r.Notify(ref("abc123"), domain.Downloaded("/assets/x/index.m3u8"))

	require.Len(t, rec.events, 2)
	require.NotNil(t, rec.events[0].progress)
	assert.Equal(t, 0.4, *rec.events[0].progress)
	assert.Nil(t, rec.events[1].progress)
	assert.Equal(t, "abc123", rec.events[1].hashedID)
}

func TestObserverRegistry_Remove(t *testing.T) {
	r := NewObserverRegistry(nil)
	rec := &recorder{}
	sub := r.Add(ref("abc123"), rec.observe)
	global := r.AddGlobal(rec.observe)

	assert.True(t, r.Remove(sub))
	assert.False(t, r.Remove(sub))
	assert.True(t, r.Remove(global))
	assert.Equal(t, "abc123", sub.Media().HashedID)
	assert.True(t, global.Media().IsZero())

	r.Notify(ref("abc123"), domain.Cancelled())
	assert.Equal(t, 0, rec.len())
	assert.Equal(t, 0, r.Count(ref("abc123")))
}

func TestObserverRegistry_PanicDoesNotStopDelivery(t *testing.T) {
	r := NewObserverRegistry(nil)
	rec := &recorder{}
	r.Add(ref("abc123"), func(string, domain.DownloadState, *float64) { panic("observer bug") })
	r.Add(ref("abc123"), rec.observe)

	assert.NotPanics(t, func() { r.Notify(ref("abc123"), domain.Cancelled()) })
	assert.Equal(t, 1, rec.len())
}

func TestObserverRegistry_ObserversGetIndependentProgress(t *testing.T) {
	r := NewObserverRegistry(nil)
	var second *float64
	r.Add(ref("abc123"), func(_ string, _ domain.DownloadState, p *float64) { *p = 99 })
	r.Add(ref("abc123"), func(_ string, _ domain.DownloadState, p *float64) { second = p })

	r.Notify(ref("abc123"), domain.Downloading(0.5))
	require.NotNil(t, second)
	assert.Equal(t, 0.5, *second)
}
