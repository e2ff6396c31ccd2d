package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-speaking-lab/internal/capture"
	"github.com/noah-isme/gema-speaking-lab/internal/progress"
)

// fakeBrowser answers protocol messages the way the recording page does.
type fakeBrowser struct {
	remote  *Remote
	grant   bool
	chunks  [][]byte
	flush   bool
	mu      sync.Mutex
	got     []Message
	sendErr error
}

func (b *fakeBrowser) Send(msg Message) error {
	b.mu.Lock()
	b.got = append(b.got, msg)
	err := b.sendErr
	b.mu.Unlock()
	if err != nil {
		return err
	}

	switch msg.Type {
	case MsgAcquire:
		go b.remote.HandlePermission(b.grant)
	case MsgFinalize:
		go func() {
			for _, chunk := range b.chunks {
				b.remote.HandleChunk(chunk)
			}
			if b.flush {
				b.remote.HandleFlushed("audio/webm;codecs=opus")
			}
		}()
	}
	return nil
}

func (b *fakeBrowser) types() []MessageType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]MessageType, 0, len(b.got))
	for _, msg := range b.got {
		out = append(out, msg.Type)
	}
	return out
}

var item = progress.ItemKey{AssignmentID: 1, ActivityID: 2, ItemID: 3}

func newManager(remote *Remote) *capture.Manager {
	profile := capture.PlatformProfile{PlatformName: "chrome", Encoding: "audio/webm;codecs=opus"}
	return capture.NewManager(remote, remote, profile, capture.ManagerOptions{}, zerolog.Nop())
}

func TestRemoteRecordsThroughManager(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	browser := &fakeBrowser{remote: remote, grant: true, flush: true, chunks: [][]byte{[]byte("abc"), []byte("def")}}
	detach := remote.Attach(browser)
	defer detach()

	manager := newManager(remote)
	require.NoError(t, manager.Start(context.Background(), item, false))

	raw, err := manager.Stop(context.Background())
	require.NoError(t, err)
	require.Equal(t, []byte("abcdef"), raw.Data)
	require.Equal(t, "audio/webm;codecs=opus", raw.MimeType)
	require.Equal(t, []MessageType{MsgAcquire, MsgRecord, MsgFinalize, MsgRelease}, browser.types())

	browser.mu.Lock()
	require.Equal(t, "audio/webm;codecs=opus", browser.got[1].MimeType)
	require.Equal(t, browser.got[0].StreamID, browser.got[3].StreamID)
	browser.mu.Unlock()
}

func TestRemotePermissionDenied(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	browser := &fakeBrowser{remote: remote, grant: false}
	remote.Attach(browser)

	_, err := remote.Open(context.Background())
	require.ErrorIs(t, err, capture.ErrPermissionDenied)
}

func TestRemoteUnavailableWithoutBrowser(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	_, err := remote.Open(context.Background())
	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	require.False(t, remote.Connected())

	browser := &fakeBrowser{remote: remote, sendErr: errors.New("socket closed")}
	remote.Attach(browser)
	_, err = remote.Open(context.Background())
	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)
}

func TestRemoteOpenFailsWhenBrowserDisconnects(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	silent := &silentTransport{}
	detach := remote.Attach(silent)

	result := make(chan error, 1)
	go func() {
		_, err := remote.Open(context.Background())
		result <- err
	}()
	require.Eventually(t, func() bool { return silent.count() == 1 }, time.Second, 5*time.Millisecond)
	detach()

	select {
	case err := <-result:
		require.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	case <-time.After(time.Second):
		t.Fatal("open did not return after detach")
	}
}

func TestRemoteFinalizeTimeout(t *testing.T) {
	remote := NewRemote(20*time.Millisecond, zerolog.Nop())
	browser := &fakeBrowser{remote: remote, grant: true, flush: false, chunks: [][]byte{[]byte("partial")}}
	remote.Attach(browser)

	manager := newManager(remote)
	require.NoError(t, manager.Start(context.Background(), item, false))

	raw, err := manager.Stop(context.Background())
	require.ErrorIs(t, err, ErrFinalizeTimeout)
	require.Equal(t, []byte("partial"), raw.Data)
	_, active := manager.Current()
	require.False(t, active)
}

func TestRemoteDropsChunksOutsideRecording(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	browser := &fakeBrowser{remote: remote, grant: true, flush: true}
	remote.Attach(browser)
	remote.HandleChunk([]byte("stray"))
	remote.HandleFlushed("audio/webm")
	remote.HandlePermission(true)

	manager := newManager(remote)
	require.NoError(t, manager.Start(context.Background(), item, false))
	_, err := manager.Stop(context.Background())
	require.ErrorIs(t, err, capture.ErrEmptyRecording)
}

func TestRemoteForwardsNotices(t *testing.T) {
	remote := NewRemote(time.Second, zerolog.Nop())
	remote.Notify(capture.Notice{Kind: capture.NoticeRetrying})

	browser := &fakeBrowser{remote: remote}
	remote.Attach(browser)
	remote.Notify(capture.Notice{Kind: capture.NoticeRetrying, Item: item, Attempt: 2, MaxAttempts: 3})
	remote.PushProgress(progress.ItemProgress{Key: item, Status: progress.StatusCompleted})

	require.Equal(t, []MessageType{MsgNotice, MsgProgress}, browser.types())
	require.Equal(t, 2, browser.got[0].Notice.Attempt)
	require.Equal(t, progress.StatusCompleted, browser.got[1].Item.Status)
}

type silentTransport struct {
	mu   sync.Mutex
	sent int
}

func (s *silentTransport) Send(Message) error {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func (s *silentTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent
}
