package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAsyncDeliversWithoutBlocking(t *testing.T) {
	release := make(chan struct{})
	got := make(chan string, 1)

	slow := Func(func(ctx context.Context, reason string) {
		<-release
		got <- reason
	})

	start := time.Now()
	Async(slow, time.Second).OnCoreMutation(context.Background(), "session.create")
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	close(release)
	select {
	case r := <-got:
		assert.Equal(t, "session.create", r)
	case <-time.After(time.Second):
		t.Fatal("notification never delivered")
	}
}

func TestAsyncSurvivesPanickingSink(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	bad := Func(func(context.Context, string) {
		defer wg.Done()
		panic("redis exploded")
	})

	assert.NotPanics(t, func() {
		Async(bad, time.Second).OnCoreMutation(context.Background(), "box.assign")
	})
	wg.Wait()
}

func TestConnectRedisWithoutAddress(t *testing.T) {
	assert.Nil(t, ConnectRedis("", ""))
}

func TestNopIsSink(t *testing.T) {
	var s Sink = Nop{}
	s.OnCoreMutation(context.Background(), "anything")
}
