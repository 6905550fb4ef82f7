// Package vegaflow runs event-driven workflows described by JSON documents.
//
// A document declares events, tools, LLM agents and one step per event type.
// Each step is a JavaScript arrow function that receives the event and a
// shared context object and returns the next event:
//
//	{
//	  "id": "greeter",
//	  "name": "Greeter",
//	  "description": "Echoes its input",
//	  "version": "v1",
//	  "tools": [],
//	  "events": [{"type": "WORKFLOW_START"}, {"type": "WORKFLOW_STOP"}],
//	  "steps": [{
//	    "event": "WORKFLOW_START",
//	    "handle": "async (event, context) => ({ type: \"WORKFLOW_STOP\", data: { output: event.data.input } })"
//	  }]
//	}
//
// # Quick Start
//
//	reg := tools.NewRegistry()
//	tools.RegisterBuiltins(reg)
//
//	svc := vegaflow.New(
//	    vegaflow.WithCatalog(reg),
//	    vegaflow.WithAgentFactory(agents.NewLLMFactory(llm.NewAnthropic(), agents.WithTools(reg))),
//	)
//
//	doc, err := dsl.Parse(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := svc.CompileAndRun(ctx, doc, map[string]any{"input": "hi"}, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(res.Output["output"])
//
// A handler only sees the tools and agents whose names appear in its source.
// Documents are validated and every step compiled before anything runs;
// tools, agents and handlers are never retried.
package vegaflow
