package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"

	"github.com/flowcore/livedb/collection"
	"github.com/flowcore/livedb/dataflow"
	"github.com/flowcore/livedb/livequery"
	"github.com/flowcore/livedb/query"
)

type employee struct {
	ID        string
	Name      string
	ManagerID string
}

type cmdDemoQuery struct{}

// Execute compiles a self-join query (every employee paired with their
// manager) and replays a scripted change sequence through it, printing
// each output change as it is published and then the final result set
// (spec §4.7-§4.9).
func (cmdDemoQuery) Execute(_ []string) error {
	var log = initLog()

	var q = &query.Query{
		From: query.Source{Alias: "e", Collection: "employees"},
		Joins: []query.Join{
			{Source: query.Source{Alias: "m", Collection: "employees"}, On: query.Func{
				Op: query.OpEq,
				Args: []query.Expr{
					query.Ref{Alias: "e", Path: []string{"ManagerID"}},
					query.Ref{Alias: "m", Path: []string{"ID"}},
				},
			}},
		},
		OrderBy: []query.OrderTerm{{Expr: query.Ref{Alias: "e", Path: []string{"ID"}}, Direction: query.Asc}},
	}

	var plan, err = query.PlanQuery(q, nil)
	if err != nil {
		return err
	}
	var graph *dataflow.Graph
	graph, err = dataflow.Compile(plan)
	if err != nil {
		return err
	}

	var employees = collection.New(collection.Options[employee, string]{
		ID:    "employees",
		KeyOf: func(e employee) string { return e.ID },
		Log:   log,
	})
	defer employees.Close()
	if err := employees.StartLoading(); err != nil {
		return err
	}

	var rt = livequery.NewRuntime("demo-self-join", graph, livequery.NewScheduler(),
		collection.Options[dataflow.Row, string]{ID: "demo-self-join-output", Log: log}, log)
	defer rt.Close()

	rt.AttachSource(livequery.NewCollectionSource[employee, string]("e", employees, collection.SubscribeOptions[employee, string]{IncludeInitialState: true}))
	rt.AttachSource(livequery.NewCollectionSource[employee, string]("m", employees, collection.SubscribeOptions[employee, string]{IncludeInitialState: true}))

	var unsub = rt.Output().SubscribeChanges(func(batch collection.ChangeBatch[dataflow.Row, string]) {
		for _, msg := range batch {
			printRowChange(msg)
		}
	}, collection.SubscribeOptions[dataflow.Row, string]{})
	defer unsub()

	var batches = [][]collection.WriteOp[employee, string]{
		{
			{Type: collection.Insert, Key: "ceo", Value: employee{ID: "ceo", Name: "Robin"}},
			{Type: collection.Insert, Key: "e1", Value: employee{ID: "e1", Name: "Asha", ManagerID: "ceo"}},
		},
		{
			{Type: collection.Insert, Key: "e2", Value: employee{ID: "e2", Name: "Jun", ManagerID: "ceo"}},
		},
		{
			{Type: collection.Update, Key: "e1", Value: employee{ID: "e1", Name: "Asha", ManagerID: "e2"}},
		},
	}
	for _, batch := range batches {
		employees.BeginPendingSync()
		for _, op := range batch {
			if err := employees.WriteSync(op); err != nil {
				return err
			}
		}
		if err := employees.CommitSync(); err != nil {
			return err
		}
	}
	if err := employees.MarkReady(); err != nil {
		return err
	}

	for !rt.IsReady() {
		time.Sleep(5 * time.Millisecond)
	}

	fmt.Println(color.New(color.Bold).Sprintf("\nlive result set (%d rows):", rt.Output().Size()))
	for _, row := range rt.Output().ToArray() {
		fmt.Printf("  %+v\n", row)
	}
	return nil
}

func printRowChange(msg collection.ChangeMessage[dataflow.Row, string]) {
	switch msg.Type {
	case collection.Insert:
		color.New(color.FgGreen).Printf("+ insert %v\n", msg.Value)
	case collection.Update:
		color.New(color.FgYellow).Printf("~ update %v\n", msg.Value)
	case collection.Delete:
		color.New(color.FgRed).Printf("- delete %v\n", msg.Value)
	}
}
