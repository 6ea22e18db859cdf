// Package policy validates imported rows with Open Policy Agent (OPA)
// policies written in Rego.
//
// # Architecture
//
// The package consists of three parts:
//
//  1. Engine - compiles policies once and evaluates them per row
//  2. Loader - reads policy files and hot-reloads them on change
//  3. Built-in policies - required-columns and no-error-cells
//
// # Usage
//
// Creating an engine and loading custom policies:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"./policies"}); err != nil {
//	    return err
//	}
//
// Evaluating a record:
//
//	result, err := eng.EvaluateRecord(ctx, rec, policy.Params{
//	    Sheet:           "Orders",
//	    RequiredColumns: []string{"Order ID", "Customer"},
//	})
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("row %d: %s: %s\n", v.Row, v.Policy, v.Message)
//	    }
//	}
//
// # Writing Policies
//
// A policy module defines a deny set. Each element is either a message or
// an object with a message and optional column and severity:
//
//	package acme.orders
//
//	import rego.v1
//
//	deny contains violation if {
//	    to_number(input.values.Qty) <= 0
//	    violation := {"message": "quantity must be positive", "column": "Qty"}
//	}
//
// The input document is:
//
//	{
//	    "row":     7,
//	    "sheet":   "Orders",
//	    "columns": ["Order ID", "Qty"],
//	    "values":  {"Order ID": "A-1", "Qty": "0"},
//	    "params":  {"sheet": "Orders", "required_columns": [...], "data": {...}}
//	}
//
// Values are the cells' display text. A violation of severity error or
// critical makes the row disallowed.
//
// # Hot Reload
//
// Loader.Watch watches policy files and directories and calls its reload
// function with the complete policy set, debounced by 500ms:
//
//	loader := policy.NewLoader(logger)
//	err := loader.Watch(ctx, paths, func(ps []policy.Policy) error {
//	    return eng.ReplacePolicies(ctx, ps)
//	})
package policy
