// Package main provides the wreq CLI tool.
//
// Usage:
//
//	wreq [flags] <command> [args]
//
// Commands:
//
//	get, head, delete       - Requests without a body
//	post, put, patch        - Requests with a streamed or inline body
//	request                 - Request described by a YAML or JSON file
//	cookies                 - Inspect or clear the persistent cookie jar
//	config                  - Configuration management
//
// Configuration:
//
//	The CLI stores configuration in ~/.wreq/wreq/
//	Use 'wreq config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/wreq/go/cmd/wreq/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
