package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/sync"
	"github.com/flowcore/livedb/txn"
)

type task struct {
	ID    string
	Title string
	Done  bool
}

type cmdDemoCollection struct{}

// scriptedSyncAdapter replays a fixed batch sequence, standing in for a
// real sync.Adapter (spec §4.4) so the demo needs no external source.
type scriptedSyncAdapter struct {
	batches [][]collection.WriteOp[task, string]
}

func (a *scriptedSyncAdapter) Run(ctx context.Context, sink sync.Sink[task, string]) error {
	for _, batch := range a.batches {
		sink.Begin()
		for _, op := range batch {
			if err := sink.Write(op); err != nil {
				return err
			}
		}
		if err := sink.Commit(); err != nil {
			return err
		}
	}
	if err := sink.MarkReady(); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

func (cmdDemoCollection) Execute(_ []string) error {
	var log = initLog()

	var coll = collection.New(collection.Options[task, string]{
		ID:    "tasks",
		KeyOf: func(t task) string { return t.ID },
		Log:   log,
	})
	defer coll.Close()

	var unsub = coll.SubscribeChanges(func(batch collection.ChangeBatch[task, string]) {
		for _, msg := range batch {
			printChange(msg)
		}
	}, collection.SubscribeOptions[task, string]{})
	defer unsub()

	var adapter = &scriptedSyncAdapter{batches: [][]collection.WriteOp[task, string]{
		{
			{Type: collection.Insert, Key: "t1", Value: task{ID: "t1", Title: "write SPEC_FULL.md"}},
			{Type: collection.Insert, Key: "t2", Value: task{ID: "t2", Title: "wire third-party deps"}},
		},
		{
			{Type: collection.Update, Key: "t1", Value: task{ID: "t1", Title: "write SPEC_FULL.md", Done: true}},
		},
	}}

	var ing, err = sync.Start[task, string](context.Background(), coll, adapter, log)
	if err != nil {
		return err
	}

	for !coll.IsReady() {
		time.Sleep(5 * time.Millisecond)
	}

	var tr, terr = coll.Update("t2", task{ID: "t2", Title: "wire third-party deps", Done: true})
	if terr != nil {
		return terr
	}
	tr.Commit(context.Background(), func(ctx context.Context, ops []txn.Op[task, string]) error {
		return nil
	}, nil)
	<-tr.Done()

	fmt.Println(color.New(color.Bold).Sprintf("\nfinal visible state (%d rows):", coll.Size()))
	for _, t := range coll.ToArray() {
		fmt.Printf("  %+v\n", t)
	}

	ing.Stop()
	return nil
}

func printChange(msg collection.ChangeMessage[task, string]) {
	switch msg.Type {
	case collection.Insert:
		color.New(color.FgGreen).Printf("+ insert %-4s %+v\n", msg.Key, msg.Value)
	case collection.Update:
		color.New(color.FgYellow).Printf("~ update %-4s %+v\n", msg.Key, msg.Value)
	case collection.Delete:
		color.New(color.FgRed).Printf("- delete %-4s %+v\n", msg.Key, msg.Value)
	}
}
