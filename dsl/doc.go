// Package dsl defines the workflow document format and its validation rules.
//
// # Document Overview
//
// A workflow document is a JSON (or YAML) object that declares the events a
// workflow reacts to, the tools and agents it may call, and one step handler
// per event:
//
//	{
//	  "id": "greeter",
//	  "name": "Greeter",
//	  "description": "Echoes its input",
//	  "version": "v1",
//	  "tools": ["get_current_time"],
//	  "agents": [
//	    {"name": "writer", "prompt": "Write a greeting.", "output": {"text": "string"}}
//	  ],
//	  "events": [
//	    {"type": "WORKFLOW_START", "data": {"input": "string"}},
//	    {"type": "WORKFLOW_STOP", "data": {"output": "string"}}
//	  ],
//	  "steps": [
//	    {
//	      "event": "WORKFLOW_START",
//	      "handle": "async (event, context) => { const r = await writer.run(event.data.input); return { type: 'WORKFLOW_STOP', data: { output: r.data.result } }; }"
//	    }
//	  ]
//	}
//
// # Parsing
//
//	doc, err := dsl.Parse(data)
//	if err != nil {
//	    var verr *dsl.ValidationError
//	    if errors.As(err, &verr) {
//	        log.Printf("invalid field %s: %s", verr.Field, verr.Message)
//	    }
//	}
//
// Parse applies Validate, the structural check every executable document must
// pass. ValidateDefinition adds the stricter invariants enforced before a
// document is stored.
package dsl
