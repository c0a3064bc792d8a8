package util

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTickWorker(t *testing.T) {
	var wg sync.WaitGroup
	var calls atomic.Int32
	tw := NewTickWorker("sweep", 10*time.Millisecond, func() {
		if calls.Add(1) == 1 {
			panic("first tick")
		}
	}, &wg)
	tw.Start()
	tw.Start()
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	require.True(t, tw.IsRunning())
	tw.Stop()
	tw.Stop()
	wg.Wait()
	require.False(t, tw.IsRunning())
}

func TestWorker(t *testing.T) {
	var wg sync.WaitGroup
	got := make(chan Message, 3)
	w := NewWorker("events", &wg, func(m Message) error {
		got <- m
		if m == "bad" {
			return errors.New("bad message")
		}
		return nil
	}, 4)
	w.Start()
	require.True(t, w.Send("one"))
	require.True(t, w.Send("bad"))
	require.True(t, w.Send("two"))
	require.Equal(t, "one", <-got)
	require.Equal(t, "bad", <-got)
	require.Equal(t, "two", <-got)
	w.Stop()
	wg.Wait()
	require.False(t, w.Send("late"))
}

func TestJsonEncDec(t *testing.T) {
	type rec struct {
		Id   string `json:"id"`
		Step int    `json:"step"`
	}
	encdec := NewJsonEncoderDecoder[rec]()
	data, err := encdec.Encode(rec{Id: "wf1", Step: 2})
	require.NoError(t, err)
	all, err := DecodeAll[rec](encdec, []string{string(data), `{"id":"wf2"}`})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "wf1", all[0].Id)
	require.Equal(t, 2, all[0].Step)

	_, err = DecodeAll[rec](encdec, []string{"{"})
	require.Error(t, err)
}
