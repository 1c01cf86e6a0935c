package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		JobID:      [16]byte(uuid.MustParse("00000000-0000-0000-0000-000000000001")),
		TS:         time.Unix(0, 0),
		Stage:      StageWorkerStart,
		PostalCode: "01310-000",
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that counts listed candidates.
func ExampleSink() {
	var listed int
	capture := SinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StagePageDone {
				listed += evt.Candidates
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     2,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, capture)

	hub.Emit(Event{
		JobID:      [16]byte(uuid.MustParse("00000000-0000-0000-0000-000000000002")),
		TS:         time.Unix(0, 0),
		Stage:      StagePageDone,
		PostalCode: "01310-000",
		Page:       3,
		Candidates: 100,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("candidates listed: %d\n", listed)
	// Output:
	// candidates listed: 100
}
